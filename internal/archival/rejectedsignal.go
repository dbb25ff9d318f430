package archival

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/cryptosignals/internal/domain"
)

// RejectedSignalStore is the narrow repository slice this pipeline needs.
type RejectedSignalStore interface {
	GetRejectedSignals(ctx context.Context, limit int64) ([]domain.RejectedSignal, error)
	DeleteRejectedSignals(ctx context.Context, signalIDs []string) error
}

// RejectedSignalArchival moves risk-blocked signals to the analytical
// store for filter-tuning analysis, computing the theoretical outcome
// (would it have hit TP or SL) from market data the risk gate never let
// it trade on — grounded on
// original_source/pipelines/rejected_signal_archival.py.
type RejectedSignalArchival struct {
	Signals  RejectedSignalStore
	Bars     BarsProvider
	Log      zerolog.Logger
	archived []domain.RejectedSignal
}

func NewRejectedSignalArchival(signals RejectedSignalStore, bars BarsProvider, log zerolog.Logger) *RejectedSignalArchival {
	return &RejectedSignalArchival{Signals: signals, Bars: bars, Log: log.With().Str("job", "rejected_signal_archival").Logger()}
}

func (p *RejectedSignalArchival) Name() string         { return "rejected_signal_archival" }
func (p *RejectedSignalArchival) StagingTable() string { return "stg_rejected_signals" }
func (p *RejectedSignalArchival) FactTable() string    { return "fact_rejected_signals" }
func (p *RejectedSignalArchival) IDColumn() string     { return "signal_id" }
func (p *RejectedSignalArchival) Columns() []string {
	return []string{
		"signal_id", "strategy_id", "asset_class", "symbol", "side",
		"pattern_name", "rejection_reason", "entry_price", "suggested_stop",
		"take_profit_1", "theoretical_pnl_pct", "theoretical_outcome", "rejected_at",
	}
}

const rejectedSignalBatchLimit = 500

func (p *RejectedSignalArchival) Extract(ctx context.Context) ([]any, error) {
	signals, err := p.Signals.GetRejectedSignals(ctx, rejectedSignalBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch rejected signals: %w", err)
	}
	records := make([]any, len(signals))
	for i, s := range signals {
		records[i] = s
	}
	return records, nil
}

// Transform checks whether, after rejection, price ever reached TP1
// (win) or the stop (loss) within the lookback window, producing a
// theoretical P&L percentage for filter-tuning dashboards. Only bars
// stamped at or after RejectedAt are walked; a resolved crypto outcome is
// charged the round-trip taker fee.
func (p *RejectedSignalArchival) Transform(ctx context.Context, records []any) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	p.archived = p.archived[:0]

	for _, rec := range records {
		rs := rec.(domain.RejectedSignal)

		outcome := "UNKNOWN"
		pnlPct := 0.0

		bars, err := p.Bars.GetDailyBars(ctx, rs.Symbol, rs.AssetClass, 30)
		if err != nil {
			p.Log.Warn().Err(err).Str("signal_id", rs.SignalID).Msg("failed to fetch bars for theoretical P&L")
		} else {
			after := make([]domain.Bar, 0, len(bars))
			for _, b := range bars {
				if !b.Ts.Before(rs.RejectedAt) {
					after = append(after, b)
				}
			}
			outcome, pnlPct = theoreticalOutcome(rs.Signal, after)
			if rs.AssetClass == domain.AssetClassCrypto && outcome != "UNRESOLVED" {
				pnlPct -= 2 * cryptoTakerFeePct * 100.0
			}
		}

		rows = append(rows, Row{
			rs.SignalID, rs.StrategyID, string(rs.AssetClass), rs.Symbol, string(rs.Side),
			rs.PatternName, rs.RejectionReason, rs.EntryPrice, rs.SuggestedStop,
			rs.TakeProfit1, round4(pnlPct), outcome, rs.RejectedAt,
		})
		p.archived = append(p.archived, rs)
	}
	return rows, nil
}

func (p *RejectedSignalArchival) Cleanup(ctx context.Context, records []any, rows []Row) error {
	if len(p.archived) == 0 {
		return nil
	}
	ids := make([]string, len(p.archived))
	for i, rs := range p.archived {
		ids[i] = rs.SignalID
	}
	return p.Signals.DeleteRejectedSignals(ctx, ids)
}

// theoreticalOutcome walks bars in order and reports whether price would
// have hit TP1 or the stop first.
func theoreticalOutcome(s domain.Signal, bars []domain.Bar) (string, float64) {
	for _, b := range bars {
		if s.Side == domain.SideBuy {
			if b.Low <= s.SuggestedStop {
				return "WOULD_HAVE_LOST", (s.SuggestedStop - s.EntryPrice) / s.EntryPrice * 100.0
			}
			if b.High >= s.TakeProfit1 {
				return "WOULD_HAVE_WON", (s.TakeProfit1 - s.EntryPrice) / s.EntryPrice * 100.0
			}
		} else {
			if b.High >= s.SuggestedStop {
				return "WOULD_HAVE_LOST", (s.EntryPrice - s.SuggestedStop) / s.EntryPrice * 100.0
			}
			if b.Low <= s.TakeProfit1 {
				return "WOULD_HAVE_WON", (s.EntryPrice - s.TakeProfit1) / s.EntryPrice * 100.0
			}
		}
	}
	return "UNRESOLVED", 0.0
}
