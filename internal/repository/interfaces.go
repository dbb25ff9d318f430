package repository

import "github.com/aristath/cryptosignals/internal/archival"

// Compile-time checks that the operational store satisfies every narrow
// interface the archival pipelines consume it through.
var (
	_ archival.ClosedPositionStore = (*PositionRepository)(nil)
	_ archival.RejectedSignalStore = (*SignalRepository)(nil)
	_ archival.ExpiredSignalStore  = (*SignalRepository)(nil)
	_ archival.StrategySource      = (*StrategyRepository)(nil)
)
