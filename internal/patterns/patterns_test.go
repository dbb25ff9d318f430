package patterns

import (
	"testing"
	"time"

	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/aristath/cryptosignals/internal/indicators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(day int, open, high, low, close, volume float64) domain.Bar {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.Bar{Ts: base.AddDate(0, 0, day), Open: open, High: high, Low: low, Close: close, Volume: volume}
}

// TestTwoCandle_BullishEngulfingAcceptanceExample mirrors spec.md §10's
// worked example: prior bar open/close 102/100, trigger bar open/close
// 100/104 -> BULLISH_ENGULFING with entry=104, invalidation=100.
func TestTwoCandle_BullishEngulfingAcceptanceExample(t *testing.T) {
	bars := []domain.Bar{
		bar(0, 102, 103, 99, 100, 1000), // prior: red
		bar(1, 100, 105, 98, 104, 3000), // trigger: green engulfing
	}
	found := twoCandle(bars, 1)
	assert.Contains(t, found, NameBullishEngulfing)
}

// TestPassesConfluence_BullishEngulfingAcceptanceExample exercises the
// gate with the confluence context spec.md §10 specifies directly:
// trend_bullish=false but rsi_bullish_divergence=true, volume above
// 1.5*SMA20 (already implied by ctx.VolumeExpansion).
func TestPassesConfluence_BullishEngulfingAcceptanceExample(t *testing.T) {
	ctx := Context{
		TrendBullish:          false,
		RSIBullishDivergence:  true,
		ReversalContext:       true,
		VolatilityContraction: true,
		VolumeExpansion:       true,
	}
	assert.True(t, passesConfluence(NameBullishEngulfing, ctx, nil, indicators.Series{}, 0))
}

func TestCalculateRatio_GartleyPrecisionGate(t *testing.T) {
	x := domain.Pivot{Price: 100, Index: 0}
	a := domain.Pivot{Price: 150, Index: 10}
	b := domain.Pivot{Price: 119.1, Index: 20} // retraces 0.618 of XA
	ratio := calculateRatio(x, a, b)
	assert.True(t, matchesTarget(ratio, 0.618))
}

func TestDetectGartley_RequiresFivePivots(t *testing.T) {
	assert.Nil(t, detectGartley([]domain.Pivot{{Price: 1}, {Price: 2}}))
}

func TestDetectGartley_FullSequence(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	x := domain.Pivot{Ts: base, Price: 100, Index: 0, Type: domain.PivotValley}
	a := domain.Pivot{Ts: base.AddDate(0, 0, 20), Price: 150, Index: 20, Type: domain.PivotPeak}
	b := domain.Pivot{Ts: base.AddDate(0, 0, 40), Price: 150 - 0.618*50, Index: 40, Type: domain.PivotValley}
	c := domain.Pivot{Ts: base.AddDate(0, 0, 50), Price: 140, Index: 50, Type: domain.PivotPeak}
	dPrice := a.Price - 0.786*(a.Price-x.Price)
	d := domain.Pivot{Ts: base.AddDate(0, 0, 60), Price: dPrice, Index: 60, Type: domain.PivotValley}

	det := detectGartley([]domain.Pivot{x, a, b, c, d})
	require.NotNil(t, det)
	assert.Equal(t, NameGartley, det.Name)
	assert.Equal(t, domain.ClassificationHarmonic, det.Classification)
}

func TestElliott135_RejectsNonAlternatingPivots(t *testing.T) {
	pivots := []domain.Pivot{
		{Index: 0, Price: 100, Type: domain.PivotValley},
		{Index: 1, Price: 110, Type: domain.PivotValley}, // not alternating
		{Index: 2, Price: 90, Type: domain.PivotValley},
		{Index: 3, Price: 120, Type: domain.PivotPeak},
		{Index: 4, Price: 95, Type: domain.PivotValley},
	}
	assert.Nil(t, detectElliott135(pivots))
}

func TestSingleCandle_Hammer(t *testing.T) {
	b := bar(0, 100, 100, 90.1, 99.9, 1000) // long lower wick, no upper wick
	found := singleCandle([]domain.Bar{b}, nil, 0)
	assert.Contains(t, found, NameHammer)
}

func TestPassesConfluence_BlocksWhenReversalContextFalse(t *testing.T) {
	ctx := Context{ReversalContext: false, VolatilityContraction: true, VolumeExpansion: true}
	assert.False(t, passesConfluence(NameBullishEngulfing, ctx, nil, indicators.Series{}, 0))
}
