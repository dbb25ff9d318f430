package patterns

import (
	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/aristath/cryptosignals/internal/indicators"
)

// Context holds the confluence predicates evaluated at one bar, plus the
// named readings the Signal Parameter Factory snapshots into
// confluence_snapshot (spec.md §4.4).
type Context struct {
	TrendBullish          bool
	RSIBullishDivergence  bool
	ReversalContext       bool
	VolatilityContraction bool
	VolumeExpansion       bool
	Snapshot              map[string]float64
}

// BuildContext evaluates the confluence predicates from spec.md §4.3 at
// bar index i. A missing ATR/ATR-SMA or volume-SMA column leaves the
// volatility-contraction or volume-expansion predicate "bypassed" (true)
// rather than a hard failure; a missing EMA50 or RSI column leaves the
// trend or divergence predicate false.
func BuildContext(bars []domain.Bar, series indicators.Series, i int) Context {
	ctx := Context{Snapshot: map[string]float64{}}

	if ema, ok := indicators.At(series.EMA50, i); ok {
		ctx.TrendBullish = bars[i].Close > ema
		ctx.Snapshot["ema_50"] = ema
	}

	ctx.RSIBullishDivergence = rsiBullishDivergence(bars, series.RSI14, i)
	ctx.ReversalContext = ctx.TrendBullish || ctx.RSIBullishDivergence

	if atr, ok := indicators.At(series.ATR14, i); ok {
		if sma, ok2 := indicators.At(series.ATRSMA20, i); ok2 {
			ctx.VolatilityContraction = atr < sma
			ctx.Snapshot["atr_14"] = atr
			ctx.Snapshot["atr_sma_20"] = sma
		} else {
			ctx.VolatilityContraction = true // bypassed: missing SMA column
		}
	} else {
		ctx.VolatilityContraction = true // bypassed: missing ATR column
	}

	if vsma, ok := indicators.At(series.VolumeSMA20, i); ok {
		ctx.VolumeExpansion = bars[i].Volume > 1.5*vsma
		ctx.Snapshot["volume_sma_20"] = vsma
	} else {
		ctx.VolumeExpansion = true // bypassed: missing column
	}

	if rsi, ok := indicators.At(series.RSI14, i); ok {
		ctx.Snapshot["rsi_14"] = rsi
	}
	if adx, ok := indicators.At(series.ADX14, i); ok {
		ctx.Snapshot["adx_14"] = adx
	}
	if mfi, ok := indicators.At(series.MFI14, i); ok {
		ctx.Snapshot["mfi_14"] = mfi
	}
	if keltner, ok := indicators.At(series.KeltnerUpper20, i); ok {
		ctx.Snapshot["keltner_upper_20"] = keltner
	}

	return ctx
}

// rsiBullishDivergence ≜ today's low is the 14-bar low but RSI is not the
// 14-bar low (spec.md §4.3).
func rsiBullishDivergence(bars []domain.Bar, rsi []float64, i int) bool {
	const window = 14
	if i < window-1 {
		return false
	}
	lowMin := bars[i].Low
	for j := i - window + 1; j <= i; j++ {
		if bars[j].Low < lowMin {
			lowMin = bars[j].Low
		}
	}
	isNewLow := bars[i].Low <= lowMin+lowMin*0.001

	rv, ok := indicators.At(rsi, i)
	if !ok {
		return false
	}
	rsiMin := rv
	for j := i - window + 1; j <= i; j++ {
		if v, ok := indicators.At(rsi, j); ok && v < rsiMin {
			rsiMin = v
		}
	}
	rsiHigher := rv > rsiMin+1.0

	return isNewLow && rsiHigher
}

// passesConfluence applies the base predicates plus the pattern-specific
// additions named in spec.md §4.3.
func passesConfluence(name Name, ctx Context, bars []domain.Bar, series indicators.Series, i int) bool {
	if !ctx.ReversalContext || !ctx.VolatilityContraction || !ctx.VolumeExpansion {
		return false
	}

	switch name {
	case NameMorningStar:
		return ctx.RSIBullishDivergence
	case NameThreeWhiteSoldiers:
		if i < 2 {
			return false
		}
		v2, v1, v0 := bars[i-2].Volume, bars[i-1].Volume, bars[i].Volume
		if !(v2 < v1 && v1 < v0) {
			return false
		}
		body2 := absF(bars[i-2].Close - bars[i-2].Open)
		body1 := absF(bars[i-1].Close - bars[i-1].Open)
		body0 := absF(bars[i].Close - bars[i].Open)
		atr, ok := indicators.At(series.ATR14, i)
		if !ok {
			return true
		}
		return (body2 + body1 + body0) > 2*atr
	case NameMarubozu:
		upper, ok := indicators.At(series.KeltnerUpper20, i)
		if !ok {
			return true
		}
		return bars[i].Close > upper
	case NameInvertedHammer:
		if i+1 >= len(bars) {
			return false // needs next-bar confirmation
		}
		mfiPrev, ok := indicators.At(series.MFI14, i-1)
		if ok && mfiPrev >= 20 {
			return false
		}
		return bars[i+1].Close > bars[i].High
	default:
		return true
	}
}
