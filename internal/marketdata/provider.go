// Package marketdata defines the bar-fetching capability interface and an
// optional on-disk memoisation layer, grounded on the teacher's Yahoo
// client adapter shape and its sqlite-backed database wrapper.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/cryptosignals/internal/domain"
)

// Provider fetches daily OHLCV bars. A single-symbol call returns a flat
// series; implementations must be idempotent and safe under concurrent
// reads (spec.md §6).
type Provider interface {
	GetDailyBars(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]domain.Bar, error)
}

// CacheKey derives the on-disk memoisation key from
// (symbol, asset_class, lookback_days, YYYY-MM-DD) per spec.md §6 — the
// cache is only ever valid within a single trading day and must never
// straddle sessions.
func CacheKey(symbol string, assetClass domain.AssetClass, lookbackDays int, asOf time.Time) string {
	return fmt.Sprintf("%s|%s|%d|%s", symbol, assetClass, lookbackDays, asOf.UTC().Format("2006-01-02"))
}
