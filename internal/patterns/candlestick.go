package patterns

import "github.com/aristath/cryptosignals/internal/domain"

const (
	hammerLowerWickRatio = 2.0
	hammerUpperWickRatio = 0.5
	marubozuBodyRatio    = 0.95
)

// singleCandle runs every single-candle shape detector at bar index i
// (grounded on patterns.py's _detect_bullish_hammer / _detect_inverted_hammer
// / _detect_dragonfly_doji / _detect_bullish_belt_hold /
// _detect_bullish_marubozu).
func singleCandle(bars []domain.Bar, atr []float64, i int) []Name {
	var found []Name
	c := newCandle(bars[i])

	if c.lowerWick >= hammerLowerWickRatio*c.body && c.upperWick <= hammerUpperWickRatio*c.body {
		found = append(found, NameHammer)
	}

	if c.bodyPct < 0.3 && c.lowerWick < c.totalRange*0.1 && c.upperWick >= 2*c.body {
		found = append(found, NameInvertedHammer)
	}

	if c.body < c.totalRange*0.1 && c.lowerWick > c.body*2 && c.upperWick < c.totalRange*0.1 {
		// Dragonfly doji: tiny body near the high, long lower shadow.
		bodyNearHigh := c.close >= c.high-c.totalRange*0.1 || c.open >= c.high-c.totalRange*0.1
		if bodyNearHigh {
			found = append(found, NameDragonflyDoji)
		}
	}

	if c.isGreen && c.body > c.totalRange*0.6 && absF(c.open-c.low) < c.totalRange*0.02 {
		found = append(found, NameBeltHold)
	}

	if c.isGreen && c.bodyPct > marubozuBodyRatio {
		rangeExpanded := true
		if v, ok := atOK(atr, i); ok {
			rangeExpanded = c.totalRange > 2.0*v
		}
		if rangeExpanded {
			found = append(found, NameMarubozu)
		}
	}

	return found
}

// BearishEngulfingAt reports whether a Bearish Engulfing fires at bar
// index i, the invalidation-precedence input the lifecycle advancer needs
// (spec.md §4.5 step 1) without running the full analyzer.
func BearishEngulfingAt(bars []domain.Bar, i int) bool {
	for _, n := range twoCandle(bars, i) {
		if n == NameBearishEngulfing {
			return true
		}
	}
	return false
}

// twoCandle runs every two-candle shape detector at bar index i, which
// must be >= 1.
func twoCandle(bars []domain.Bar, i int) []Name {
	if i < 1 {
		return nil
	}
	var found []Name
	prev := newCandle(bars[i-1])
	cur := newCandle(bars[i])

	if cur.isGreen && prev.isRed && cur.open <= prev.close && cur.close > prev.open {
		found = append(found, NameBullishEngulfing)
	}
	if cur.isRed && prev.isGreen && cur.open >= prev.close && cur.close < prev.open {
		found = append(found, NameBearishEngulfing)
	}

	// Harami: small green body fully inside the prior red body.
	if prev.isRed && cur.isGreen && cur.body < prev.body*0.5 {
		insideBody := cur.open > prev.close && cur.open < prev.open &&
			cur.close > prev.close && cur.close < prev.open
		if insideBody {
			found = append(found, NameHarami)
		}
	}

	// Kicker: prior red, current green opening with a true gap above the
	// prior high.
	if prev.isRed && cur.isGreen && bars[i].Open > bars[i-1].Close && bars[i].Low > bars[i-1].High {
		found = append(found, NameKicker)
	}

	return found
}

// threeCandle runs every three-candle shape detector at bar index i
// (requires i >= 2), plus Three Inside Up which also needs a prior red
// body at i-2.
func threeCandle(bars []domain.Bar, atr, rsi []float64, i int) []Name {
	if i < 2 {
		return nil
	}
	var found []Name
	t2 := newCandle(bars[i-2]) // oldest
	t1 := newCandle(bars[i-1])
	t0 := newCandle(bars[i])

	// Morning Star: large red, small star with a gap down, large green
	// with >=50% penetration into the first candle's body.
	hasSize := true
	if v, ok := atOK(atr, i-2); ok {
		hasSize = t2.body > v
	}
	isStar := t1.body < t1.totalRange*0.3
	gapDown := bars[i-1].Open <= bars[i-2].Close
	mid := (bars[i-2].Open + bars[i-2].Close) / 2
	penetration := bars[i].Close > mid
	if t2.isRed && hasSize && isStar && gapDown && t0.isGreen && penetration {
		found = append(found, NameMorningStar)
	}

	// Piercing Line.
	t1Dominant := t1.bodyPct > 0.6
	mid1 := (bars[i-1].Open + bars[i-1].Close) / 2
	if t1.isRed && t1Dominant && bars[i].Open < bars[i-1].Close &&
		bars[i].Close > mid1 && bars[i].Close < bars[i-1].Open && t0.isGreen {
		found = append(found, NamePiercingLine)
	}

	// Three White Soldiers: 3 greens, each open inside the prior body,
	// closes near highs, volume step-up and aggregate body > 2*ATR.
	if t2.isGreen && t1.isGreen && t0.isGreen {
		openInBody1 := bars[i].Open > bars[i-1].Open && bars[i].Open < bars[i-1].Close
		openInBody2 := bars[i-1].Open > bars[i-2].Open && bars[i-1].Open < bars[i-2].Close
		strongClose0 := t0.upperWick < t0.body*0.2
		strongClose1 := t1.upperWick < t1.body*0.2
		strongClose2 := t2.upperWick < t2.body*0.2
		volumeStep := bars[i-2].Volume < bars[i-1].Volume && bars[i-1].Volume < bars[i].Volume
		totalBody := t2.body + t1.body + t0.body
		dominantRange := true
		if v, ok := atOK(atr, i); ok {
			dominantRange = totalBody > 2.0*v
		}
		if openInBody1 && openInBody2 && strongClose0 && strongClose1 && strongClose2 && volumeStep && dominantRange {
			found = append(found, NameThreeWhiteSoldiers)
		}
	}

	// Three Inside Up: harami at i-1 (body of t1 inside t2's red body)
	// confirmed by a green close at i above t2's open.
	haramiInside := t2.isRed && t1.isGreen && t1.body < t2.body*0.5 &&
		bars[i-1].Open > bars[i-2].Close && bars[i-1].Open < bars[i-2].Open &&
		bars[i-1].Close > bars[i-2].Close && bars[i-1].Close < bars[i-2].Open
	if haramiInside && t0.isGreen && bars[i].Close > bars[i-2].Open {
		found = append(found, NameThreeInsideUp)
	}

	return found
}

// fiveCandleRisingThreeMethods detects the continuation shape: a large
// green candle, three small-bodied consolidation candles staying within
// its range, and a final green breakout above the first candle's high.
func fiveCandleRisingThreeMethods(bars []domain.Bar, i int) bool {
	if i < 4 {
		return false
	}
	t4 := newCandle(bars[i-4])
	t3 := newCandle(bars[i-3])
	t2 := newCandle(bars[i-2])
	t1 := newCandle(bars[i-1])
	t0 := newCandle(bars[i])

	if !t4.isGreen || !t0.isGreen {
		return false
	}
	avgConsolBody := (t3.body + t2.body + t1.body) / 3
	if t4.body <= avgConsolBody*1.5 || t0.body <= avgConsolBody*1.5 {
		return false
	}
	withinRange := bars[i-3].High <= bars[i-4].High && bars[i-3].Low >= bars[i-4].Low &&
		bars[i-2].High <= bars[i-4].High && bars[i-2].Low >= bars[i-4].Low &&
		bars[i-1].High <= bars[i-4].High && bars[i-1].Low >= bars[i-4].Low
	return withinRange && bars[i].Close > bars[i-4].High
}

func atOK(series []float64, i int) (float64, bool) {
	if series == nil || i < 0 || i >= len(series) {
		return 0, false
	}
	v := series[i]
	if v != v { // NaN
		return 0, false
	}
	return v, true
}
