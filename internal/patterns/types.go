// Package patterns is the analyzer: candlestick, multi-day structural, and
// harmonic shape detection over a bar series plus the indicator columns
// computed by internal/indicators, gated by confluence context and
// resolved to a single priority winner per bar. Grounded on
// original_source/analysis/{patterns,structural,harmonics}.py, reshaped
// from pandas boolean columns into a per-bar candle feature struct and a
// fixed detector list, per spec.md §9's re-architecting note.
package patterns

import "github.com/aristath/cryptosignals/internal/domain"

// Name identifies a detected shape.
type Name string

const (
	NameHammer              Name = "BULLISH_HAMMER"
	NameInvertedHammer      Name = "INVERTED_HAMMER"
	NameDragonflyDoji       Name = "DRAGONFLY_DOJI"
	NameBeltHold            Name = "BULLISH_BELT_HOLD"
	NameMarubozu            Name = "BULLISH_MARUBOZU"
	NameBullishEngulfing    Name = "BULLISH_ENGULFING"
	NameBearishEngulfing    Name = "BEARISH_ENGULFING"
	NameHarami              Name = "BULLISH_HARAMI"
	NameKicker              Name = "BULLISH_KICKER"
	NameMorningStar         Name = "MORNING_STAR"
	NamePiercingLine        Name = "PIERCING_LINE"
	NameThreeInsideUp       Name = "THREE_INSIDE_UP"
	NameThreeWhiteSoldiers  Name = "THREE_WHITE_SOLDIERS"
	NameRisingThreeMethods  Name = "RISING_THREE_METHODS"
	NameDoubleBottom        Name = "DOUBLE_BOTTOM"
	NameInverseHeadShoulder Name = "INVERSE_HEAD_AND_SHOULDERS"
	NameBullFlag            Name = "BULL_FLAG"
	NameCupAndHandle        Name = "CUP_AND_HANDLE"
	NameAscendingTriangle   Name = "ASCENDING_TRIANGLE"
	NameFallingWedge        Name = "FALLING_WEDGE"
	NameTweezerBottoms      Name = "TWEEZER_BOTTOMS"
	NameABCD                Name = "ABCD"
	NameGartley             Name = "GARTLEY"
	NameBat                 Name = "BAT"
	NameButterfly           Name = "BUTTERFLY"
	NameCrab                Name = "CRAB"
	NameElliott135          Name = "ELLIOTT_1_3_5"
)

// candle derives the body/wick ratios every single- and multi-candle
// detector reads, grounded on patterns.py's body_size/upper_wick/
// lower_wick/total_range/body_pct columns.
type candle struct {
	open, high, low, close, volume float64
	isGreen, isRed                 bool
	body, upperWick, lowerWick     float64
	totalRange, bodyPct            float64
}

func newCandle(b domain.Bar) candle {
	c := candle{open: b.Open, high: b.High, low: b.Low, close: b.Close, volume: b.Volume}
	c.isGreen = b.Close > b.Open
	c.isRed = b.Close < b.Open
	c.body = absF(b.Close - b.Open)
	c.totalRange = b.High - b.Low
	if c.totalRange > 0 {
		c.bodyPct = c.body / c.totalRange
	}
	if c.isGreen {
		c.upperWick = b.High - b.Close
		c.lowerWick = b.Open - b.Low
	} else {
		c.upperWick = b.High - b.Open
		c.lowerWick = b.Close - b.Low
	}
	return c
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Detection is one confirmed shape at a bar index, carrying everything
// the Signal Parameter Factory needs downstream (spec.md §4.4).
type Detection struct {
	Name             Name
	Index            int
	Classification   domain.PatternClassification
	DurationDays     int
	Anchors          []domain.Pivot
	HarmonicMetadata map[string]float64
	Strength         float64
}

// priorityOrder is the fixed resolution order from spec.md §4.3: prefer
// continuation over reversal over single-bar shapes. Harmonic patterns
// are never primary — they only add confluence.
var priorityOrder = []Name{
	NameBullFlag,
	NameThreeWhiteSoldiers,
	NameMarubozu,
	NameMorningStar,
	NamePiercingLine,
	NameBullishEngulfing,
	NameHammer,
	NameInvertedHammer,
	NameDoubleBottom,
}

// minPatternWidthBars is the minimum bar span between first and last pivot
// every structural detector enforces (spec.md §4.3).
const minPatternWidthBars = 10
