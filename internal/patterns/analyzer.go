package patterns

import (
	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/aristath/cryptosignals/internal/indicators"
	"github.com/aristath/cryptosignals/internal/pivot"
)

// Analysis is the result of running the full analyzer at one bar: the
// primary shape winner (if any, chosen by priority order), any harmonic
// patterns detected as additional confluence, and the confluence context
// used to reach the decision.
type Analysis struct {
	Primary   *Detection
	Harmonics []*Detection
	Secondary []*Detection
	Context   Context
}

// classify sets a structural detection's classification/duration from
// its anchor span, leaving single-candle shapes (zero-width anchors) as
// STANDARD with zero duration.
func classify(d *Detection) {
	if len(d.Anchors) < 2 {
		d.Classification = domain.ClassificationStandard
		return
	}
	spanDays := d.Anchors[len(d.Anchors)-1].Ts.Sub(d.Anchors[0].Ts).Hours() / 24
	d.DurationDays = int(spanDays)
	if spanDays > domain.MacroThresholdDays {
		d.Classification = domain.ClassificationMacro
	} else {
		d.Classification = domain.ClassificationStandard
	}
}

// Analyze runs every detector at bar index i against bars, the indicator
// series, and the pivots already extracted over the full history, then
// resolves the confluence-gated winner by spec.md §4.3's priority order.
func Analyze(bars []domain.Bar, series indicators.Series, pivots []domain.Pivot, i int) Analysis {
	ctx := BuildContext(bars, series, i)

	candidates := map[Name]*Detection{}

	for _, n := range singleCandle(bars, series.ATR14, i) {
		candidates[n] = &Detection{Name: n, Index: i}
	}
	for _, n := range twoCandle(bars, i) {
		candidates[n] = &Detection{Name: n, Index: i}
	}
	for _, n := range threeCandle(bars, series.ATR14, series.RSI14, i) {
		candidates[n] = &Detection{Name: n, Index: i}
	}
	if fiveCandleRisingThreeMethods(bars, i) {
		candidates[NameRisingThreeMethods] = &Detection{Name: NameRisingThreeMethods, Index: i}
	}

	recent := pivot.FilterPivotsByLookback(pivots, len(bars), 252)
	for _, d := range []*Detection{
		detectDoubleBottom(bars, recent, i),
		detectInverseHeadShoulders(bars, recent, i),
		detectBullFlag(bars, recent, i),
		detectCupAndHandle(bars, recent, i),
		detectAscendingTriangle(bars, recent, i),
		detectFallingWedge(bars, recent, i),
		detectTweezerBottoms(bars, i),
	} {
		if d != nil {
			candidates[d.Name] = d
		}
	}

	var primary *Detection
	for _, name := range priorityOrder {
		d, ok := candidates[name]
		if !ok {
			continue
		}
		if !passesConfluence(name, ctx, bars, series, i) {
			continue
		}
		classify(d)
		primary = d
		break
	}

	// Every candidate that didn't win the priority resolution is still
	// confluence-eligible (spec.md §4.3's "additional confluence" note,
	// same treatment harmonics already get below).
	var secondary []*Detection
	for _, d := range candidates {
		if primary != nil && d.Name == primary.Name {
			continue
		}
		secondary = append(secondary, d)
	}

	harmonics := DetectHarmonics(recent)

	return Analysis{Primary: primary, Harmonics: harmonics, Secondary: secondary, Context: ctx}
}

// ConfluenceFactors returns the whitelisted true booleans on the bar plus
// the harmonic pattern name if any, plus every non-priority pattern
// detected alongside the primary, per spec.md §4.4.
func ConfluenceFactors(ctx Context, harmonics, secondary []*Detection) []string {
	var factors []string
	if ctx.TrendBullish {
		factors = append(factors, "trend_bullish")
	}
	if ctx.RSIBullishDivergence {
		factors = append(factors, "rsi_bullish_divergence")
	}
	if ctx.VolatilityContraction {
		factors = append(factors, "volatility_contraction")
	}
	if ctx.VolumeExpansion {
		factors = append(factors, "volume_expansion")
	}
	for _, h := range harmonics {
		factors = append(factors, string(h.Name))
	}
	for _, d := range secondary {
		factors = append(factors, string(d.Name))
	}
	return factors
}
