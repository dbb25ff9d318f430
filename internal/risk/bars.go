package risk

import (
	"context"
	"fmt"

	"github.com/aristath/cryptosignals/internal/domain"
)

// BarsProvider is the narrow slice of internal/marketdata.Provider the
// correlation gate needs — kept local so this package doesn't import
// marketdata directly (no price-cache concerns belong here).
type BarsProvider interface {
	GetDailyBars(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]domain.Bar, error)
}

// MarketDataBars adapts a BarsProvider into the engine's CorrelationBars
// contract by projecting out closing prices.
type MarketDataBars struct {
	Provider BarsProvider
}

// Closes returns the closing prices of the last lookbackDays daily bars
// for symbol, oldest first.
func (m MarketDataBars) Closes(ctx context.Context, symbol string, assetClass domain.AssetClass, lookbackDays int) ([]float64, error) {
	bars, err := m.Provider.GetDailyBars(ctx, symbol, assetClass, lookbackDays)
	if err != nil {
		return nil, fmt.Errorf("risk: fetch closes for %s: %w", symbol, err)
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes, nil
}
