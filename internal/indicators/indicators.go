// Package indicators augments a bar sequence with the derived series
// every downstream filter in the pattern analyzer needs, following the
// teacher's go-talib wrapper style (pkg/formulas/rsi.go) generalized from
// a single-value helper to whole-series columns.
package indicators

import (
	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/floats"
)

// Series holds every derived column the pattern analyzer reads. Missing
// columns (nil slices, or NaN at an index) must be treated by callers as
// "filter bypassed" rather than "filter failed" (spec.md §4.2).
type Series struct {
	EMA50              []float64
	RSI14              []float64
	ATR14              []float64
	ATRSMA20           []float64
	BollingerLower20   []float64
	MFI14              []float64
	ADX14              []float64
	KeltnerUpper20     []float64
	VolumeSMA20        []float64
	ChandelierExitLong []float64
}

const (
	chandelierLookback = 22
	chandelierATRMult  = 3.0
	keltnerATRMult     = 2.0
)

// Compute derives every Series column from bars. Columns that cannot be
// computed (insufficient history) are left as nil rather than a partial
// or zero-filled slice, so callers can distinguish "not enough data yet"
// from "computed to zero".
func Compute(bars []domain.Bar) Series {
	n := len(bars)
	if n == 0 {
		return Series{}
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	s := Series{}

	if n >= 50 {
		s.EMA50 = talib.Ema(closes, 50)
	}
	if n >= 15 {
		s.RSI14 = talib.Rsi(closes, 14)
	}
	if n >= 15 {
		s.ATR14 = talib.Atr(highs, lows, closes, 14)
		s.ATRSMA20 = rollingSMA(s.ATR14, 20)
	}
	if n >= 20 {
		_, _, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
		s.BollingerLower20 = lower
		s.VolumeSMA20 = rollingSMA(volumes, 20)
	}
	if n >= 15 {
		s.MFI14 = talib.Mfi(highs, lows, closes, volumes, 14)
	}
	if n >= 28 {
		s.ADX14 = talib.Adx(highs, lows, closes, 14)
	}
	if n >= 20 && s.ATR14 != nil {
		s.KeltnerUpper20 = keltnerUpper(closes, s.ATR14, 20, keltnerATRMult)
	}
	if n >= chandelierLookback && s.ATR14 != nil {
		s.ChandelierExitLong = chandelierExitLong(highs, s.ATR14, chandelierLookback, chandelierATRMult)
	}

	return s
}

// rollingSMA computes a simple moving average over window, leaving the
// first window-1 entries as NaN (insufficient history).
func rollingSMA(values []float64, window int) []float64 {
	if len(values) < window {
		return nil
	}
	out := make([]float64, len(values))
	for i := range out {
		out[i] = nan
	}
	for i := window - 1; i < len(values); i++ {
		out[i] = floats.Sum(values[i-window+1:i+1]) / float64(window)
	}
	return out
}

// keltnerUpper computes the upper Keltner channel: EMA(close,window) +
// mult*ATR.
func keltnerUpper(closes, atr []float64, window int, mult float64) []float64 {
	ema := talib.Ema(closes, window)
	out := make([]float64, len(closes))
	for i := range out {
		if isNaN(ema[i]) || isNaN(atr[i]) {
			out[i] = nan
			continue
		}
		out[i] = ema[i] + mult*atr[i]
	}
	return out
}

// chandelierExitLong computes the long-side Chandelier Exit: the highest
// high over lookback bars minus mult*ATR, the runner-exit trailing gate
// used in {TP1_HIT, TP2_HIT} (spec.md §4.5 step 2-3, Glossary).
func chandelierExitLong(highs, atr []float64, lookback int, mult float64) []float64 {
	out := make([]float64, len(highs))
	for i := range out {
		if i < lookback-1 || isNaN(atr[i]) {
			out[i] = nan
			continue
		}
		window := highs[i-lookback+1 : i+1]
		out[i] = floats.Max(window) - mult*atr[i]
	}
	return out
}

var nan = func() float64 {
	var zero float64
	return zero / zero
}()

func isNaN(f float64) bool {
	return f != f
}

// At safely reads series[i], reporting ok=false when the column is nil,
// out of range, or NaN — the "filter bypassed" signal of spec.md §4.2.
func At(series []float64, i int) (float64, bool) {
	if series == nil || i < 0 || i >= len(series) {
		return 0, false
	}
	v := series[i]
	if isNaN(v) {
		return 0, false
	}
	return v, true
}
