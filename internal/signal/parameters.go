// Package signal implements the Signal Parameter Factory and the
// lifecycle advancer (check_exits), grounded on
// original_source/engine/{parameters,signal_generator}.py, reconciled
// against spec.md §4.4-§4.5 where the Python draft is incomplete.
package signal

import (
	"time"

	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/aristath/cryptosignals/internal/indicators"
	"github.com/aristath/cryptosignals/internal/patterns"
	"github.com/aristath/cryptosignals/internal/pivot"
)

// safeStopVal is the micro-cap safeguard sentinel (spec.md §4.4):
// hydrate_safe_values never lets a stop/TP reach zero or negative.
const safeStopVal = 1e-8

// validHoursStandard/validHoursMacro are the signal's time-to-live window
// from the triggering bar, widened for MACRO/MACRO_HARMONIC patterns.
const (
	validHoursStandard = 48 * time.Hour
	validHoursMacro    = 120 * time.Hour
)

// confluenceWhitelist are the boolean context readings eligible to appear
// in a Signal's ConfluenceFactors (spec.md §4.4).
var confluenceWhitelist = []string{
	"trend_bullish", "rsi_bullish_divergence", "volatility_contraction", "volume_expansion",
}

// Factory builds parameterised Signals from a confluence-gated pattern
// detection.
type Factory struct {
	StrategyID   func(patternName string) string
	TTL          time.Duration
	MaxAnchors   int
}

// NewFactory builds a Factory with the default strategy-id mapping
// (pattern name itself, except harmonics which use a shared strategy id)
// and the given delete-at TTL (env-controlled, spec.md §4.4).
func NewFactory(ttl time.Duration) *Factory {
	return &Factory{
		StrategyID: func(patternName string) string { return patternName },
		TTL:        ttl,
		MaxAnchors: 5,
	}
}

// BuildSignal computes every Signal field from a confluence-gated
// Analysis at bar index i, or returns nil if Analysis.Primary is nil (no
// pattern fired).
func (f *Factory) BuildSignal(symbol string, assetClass domain.AssetClass, bars []domain.Bar, pivots []domain.Pivot, series indicators.Series, analysis patterns.Analysis, i int) *domain.Signal {
	if analysis.Primary == nil {
		return nil
	}
	primary := analysis.Primary
	bar := bars[i]

	atr, _ := indicators.At(series.ATR14, i)
	entry := bar.Close

	suggestedStop, invalidation, tp1, tp2, tp3 := stopAndTargets(primary, bars, atr, entry, i)

	classification := primary.Classification
	strategyID := f.StrategyID(string(primary.Name))
	harmonicMeta := map[string]float64{}

	// Harmonic patterns add confluence rather than replace the primary,
	// but when one fires alongside the primary it upgrades the strategy
	// id and classification (spec.md §4.3's "additional confluence" note,
	// grounded on original_source/engine/parameters.py's harmonic_pattern
	// branch).
	if len(analysis.Harmonics) > 0 {
		h := analysis.Harmonics[0]
		strategyID = "strategies/S002-HARMONIC-PATTERN"
		classification = h.Classification
		for k, v := range h.HarmonicMetadata {
			harmonicMeta[k] = v
		}
	}

	validFor := validHoursStandard
	if classification == domain.ClassificationMacro || classification == domain.ClassificationMacroHarmonic {
		validFor = validHoursMacro
	}

	anchors := pivot.RecentPivots(pivots, f.MaxAnchors)

	signalID := domain.DeterministicID(bar.Ts, strategyID, symbol, string(primary.Name), bar.Ts)

	factors := patterns.ConfluenceFactors(analysis.Context, analysis.Harmonics, analysis.Secondary)

	sig := &domain.Signal{
		SignalID:              signalID,
		StrategyID:            strategyID,
		Symbol:                symbol,
		AssetClass:            assetClass,
		DS:                    time.Date(bar.Ts.Year(), bar.Ts.Month(), bar.Ts.Day(), 0, 0, 0, 0, time.UTC),
		Side:                  domain.SideBuy,
		PatternName:           string(primary.Name),
		PatternClassification: classification,
		PatternDurationDays:   primary.DurationDays,
		StructuralAnchors:     anchors,
		HarmonicMetadata:      harmonicMeta,
		EntryPrice:            entry,
		SuggestedStop:         suggestedStop,
		InvalidationPrice:     invalidation,
		TakeProfit1:           tp1,
		TakeProfit2:           tp2,
		TakeProfit3:           tp3,
		Status:                domain.StatusWaiting,
		CreatedAt:             bar.Ts,
		ValidUntil:            bar.Ts.Add(validFor),
		DeleteAt:              bar.Ts.Add(f.TTL),
		ConfluenceFactors:     factors,
		ConfluenceSnapshot:    analysis.Context.Snapshot,
	}
	return sig
}

// stopAndTargets computes the pattern-specific stop/invalidation and the
// TP1/TP2/TP3 ladder, defaulting to entry +/- 2/4/6*ATR unless overridden
// (Bull Flag's flagpole projection) per spec.md §4.4.
func stopAndTargets(d *patterns.Detection, bars []domain.Bar, atr, entry float64, i int) (stop, invalidation, tp1, tp2, tp3 float64) {
	bar := bars[i]
	stop = bar.Low * 0.99
	invalidation = bar.Low

	switch d.Name {
	case patterns.NameHammer, patterns.NameMorningStar:
		invalidation = bar.Low
		stop = maxF(safeStopVal, bar.Low*0.99)

	case patterns.NameBullishEngulfing:
		invalidation = bar.Open
		stop = bar.Open * 0.99

	case patterns.NameMarubozu:
		mid := (bar.Open + bar.Close) / 2
		invalidation = mid
		stop = mid * 0.99

	case patterns.NameBullFlag:
		poleHeight := d.HarmonicMetadata["pole_height"]
		if atr > 0 && 3.0*atr > poleHeight {
			poleHeight = 3.0 * atr
		}
		tp1 = entry + 0.5*poleHeight
		tp2 = entry + 1.0*poleHeight
		tp3 = entry + 1.5*poleHeight
		invalidation = bar.Low
		stop = invalidation * 0.99

	case patterns.NameElliott135:
		invalidation = bar.Low
		if atr > 0 {
			stop = maxF(safeStopVal, bar.Low-0.5*atr)
		} else {
			stop = bar.Low * 0.99
		}

	default:
		invalidation = bar.Low
		stop = bar.Low * 0.99
	}

	if tp1 == 0 {
		if atr > 0 {
			tp1 = entry + 2.0*atr
			tp2 = entry + 4.0*atr
			tp3 = entry + 6.0*atr
		} else {
			tp1 = entry * 1.03
			tp2 = entry * 1.06
			tp3 = entry * 1.10
		}
	}
	return
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// HydrateSafeValues replaces any non-positive stop/TP with strictly
// positive sentinels, for the sole purpose of passing schema validation
// on rejected shadow signals — never used for live orders (spec.md §4.4).
func HydrateSafeValues(s *domain.Signal) {
	if s.SuggestedStop <= 0 {
		s.SuggestedStop = 1e-8
	}
	if s.TakeProfit1 <= 0 {
		s.TakeProfit1 = 1e-8
	}
	if s.TakeProfit2 <= 0 {
		s.TakeProfit2 = 2e-8
	}
	if s.TakeProfit3 <= 0 {
		s.TakeProfit3 = 3e-8
	}
}
