package archival

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/cryptosignals/internal/domain"
)

// BarsProvider is the narrow slice of internal/marketdata.Provider that
// ExpiredSignalArchivalPipeline and RejectedSignalArchival need to
// recompute the post-hoc excursion/theoretical-outcome metrics against
// historical bars.
type BarsProvider interface {
	GetDailyBars(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]domain.Bar, error)
}

// EnsureSchema creates every pipeline's staging and fact table if absent,
// so a fresh DuckDB file (first deploy, or a test run against a scratch
// path) doesn't need a separate migration step before the first archive
// pass. Column typing is inferred from naming convention rather than
// threading a schema alongside Pipeline.Columns(): names ending in "_at",
// "_from", "_until", "_time" or "ds" type as TIMESTAMP; otherwise names
// containing "_pct", "_usd", "qty", "ratio", "price", "pnl", "equity",
// "drawdown" or "excursion" type as DOUBLE; everything else as VARCHAR.
func EnsureSchema(ctx context.Context, store *Store, pipelines []Pipeline) error {
	for _, p := range pipelines {
		doubles, timestamps := inferColumnTypes(p.Columns())
		if err := store.EnsureTable(ctx, p.StagingTable(), p.Columns(), doubles, timestamps); err != nil {
			return fmt.Errorf("archival: ensure schema for %s: %w", p.Name(), err)
		}
		if err := store.EnsureTable(ctx, p.FactTable(), p.Columns(), doubles, timestamps); err != nil {
			return fmt.Errorf("archival: ensure schema for %s: %w", p.Name(), err)
		}
	}
	return nil
}

var doubleSuffixes = []string{"_pct", "_usd", "qty", "ratio", "price", "pnl", "equity", "drawdown", "excursion"}
var timestampSuffixes = []string{"_at", "_from", "_until", "_time", "ds"}

func inferColumnTypes(columns []string) (doubles, timestamps map[string]bool) {
	doubles = make(map[string]bool, len(columns))
	timestamps = make(map[string]bool, len(columns))
	for _, c := range columns {
		lower := strings.ToLower(c)
		for _, suf := range timestampSuffixes {
			if strings.HasSuffix(lower, suf) {
				timestamps[c] = true
				break
			}
		}
		if timestamps[c] {
			continue
		}
		for _, suf := range doubleSuffixes {
			if strings.Contains(lower, suf) {
				doubles[c] = true
				break
			}
		}
	}
	return doubles, timestamps
}
