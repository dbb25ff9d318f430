package patterns

import (
	"github.com/aristath/cryptosignals/internal/domain"
)

// structuralWidth reports whether the span between first and last pivot
// in anchors satisfies the minimum pattern width (spec.md §4.3).
func structuralWidth(anchors []domain.Pivot) bool {
	if len(anchors) < 2 {
		return false
	}
	return anchors[len(anchors)-1].Index-anchors[0].Index >= minPatternWidthBars
}

func valleys(pivots []domain.Pivot) []domain.Pivot {
	var out []domain.Pivot
	for _, p := range pivots {
		if p.Type == domain.PivotValley {
			out = append(out, p)
		}
	}
	return out
}

func peaks(pivots []domain.Pivot) []domain.Pivot {
	var out []domain.Pivot
	for _, p := range pivots {
		if p.Type == domain.PivotPeak {
			out = append(out, p)
		}
	}
	return out
}

func pctDiff(a, b float64) float64 {
	avg := (a + b) / 2
	if avg == 0 {
		return 0
	}
	return absF(a-b) / avg
}

// detectDoubleBottom requires two valleys within 1.5% of each other with
// an intervening peak at least 3% above them, confirmed by the current
// bar closing above the intervening peak (the neckline).
func detectDoubleBottom(bars []domain.Bar, pivots []domain.Pivot, i int) *Detection {
	vs := valleys(pivots)
	ps := peaks(pivots)
	if len(vs) < 2 || len(ps) < 1 {
		return nil
	}
	v1, v2 := vs[len(vs)-2], vs[len(vs)-1]
	if v2.Index <= v1.Index {
		return nil
	}
	var neckline *domain.Pivot
	for idx := range ps {
		if ps[idx].Index > v1.Index && ps[idx].Index < v2.Index {
			p := ps[idx]
			neckline = &p
		}
	}
	if neckline == nil {
		return nil
	}
	anchors := []domain.Pivot{v1, *neckline, v2}
	if !structuralWidth(anchors) {
		return nil
	}
	if pctDiff(v1.Price, v2.Price) > 0.015 {
		return nil
	}
	avgValley := (v1.Price + v2.Price) / 2
	if (neckline.Price-avgValley)/avgValley < 0.03 {
		return nil
	}
	if bars[i].Close <= neckline.Price {
		return nil
	}
	return &Detection{Name: NameDoubleBottom, Index: i, Anchors: anchors}
}

// detectInverseHeadShoulders requires V1,P1,V2,P2,V3 with V2 (the head) at
// least 3% below the lowest shoulder, shoulders within 3% of each other,
// a bounded time ratio between the two legs, and a close breaking above
// the neckline (min of the two peaks).
func detectInverseHeadShoulders(bars []domain.Bar, pivots []domain.Pivot, i int) *Detection {
	if len(pivots) < 5 {
		return nil
	}
	tail := pivots[len(pivots)-5:]
	v1, p1, v2, p2, v3 := tail[0], tail[1], tail[2], tail[3], tail[4]
	if v1.Type != domain.PivotValley || p1.Type != domain.PivotPeak ||
		v2.Type != domain.PivotValley || p2.Type != domain.PivotPeak || v3.Type != domain.PivotValley {
		return nil
	}
	anchors := []domain.Pivot{v1, p1, v2, p2, v3}
	if !structuralWidth(anchors) {
		return nil
	}
	lowestShoulder := v1.Price
	if v3.Price < lowestShoulder {
		lowestShoulder = v3.Price
	}
	if (lowestShoulder-v2.Price)/lowestShoulder < 0.03 {
		return nil
	}
	if pctDiff(v1.Price, v3.Price) > 0.03 {
		return nil
	}
	leg1 := float64(v2.Index - v1.Index)
	leg2 := float64(v3.Index - v2.Index)
	if leg2 == 0 {
		return nil
	}
	ratio := leg1 / leg2
	if ratio < 0.6 || ratio > 1.4 {
		return nil
	}
	neckline := p1.Price
	if p2.Price < neckline {
		neckline = p2.Price
	}
	if bars[i].Close <= neckline {
		return nil
	}
	return &Detection{Name: NameInverseHeadShoulder, Index: i, Anchors: anchors}
}

// detectBullFlag requires a flagpole (valley->peak) rising >=15%, a flag
// consolidation that stays in the upper half of the pole range with lower
// volume than the pole, confirmed by breaking back above the pole peak.
func detectBullFlag(bars []domain.Bar, pivots []domain.Pivot, i int) *Detection {
	vs := valleys(pivots)
	ps := peaks(pivots)
	if len(vs) < 1 || len(ps) < 1 {
		return nil
	}
	poleStart, poleEnd := vs[len(vs)-1], ps[len(ps)-1]
	if poleEnd.Index <= poleStart.Index {
		return nil
	}
	anchors := []domain.Pivot{poleStart, poleEnd}
	if !structuralWidth(anchors) {
		return nil
	}
	poleHeight := poleEnd.Price - poleStart.Price
	if poleHeight/poleStart.Price < 0.15 {
		return nil
	}
	flagFloor := poleEnd.Price - poleHeight*0.5
	flagLow := bars[i].Low
	polAvgVol, flagAvgVol := 0.0, 0.0
	poleBars, flagBars := 0, 0
	for idx := poleStart.Index; idx <= poleEnd.Index; idx++ {
		polAvgVol += bars[idx].Volume
		poleBars++
	}
	for idx := poleEnd.Index + 1; idx <= i; idx++ {
		flagAvgVol += bars[idx].Volume
		flagBars++
		if bars[idx].Low < flagLow {
			flagLow = bars[idx].Low
		}
	}
	if poleBars == 0 || flagBars == 0 {
		return nil
	}
	polAvgVol /= float64(poleBars)
	flagAvgVol /= float64(flagBars)
	if flagLow < flagFloor {
		return nil
	}
	if flagAvgVol >= polAvgVol {
		return nil
	}
	if bars[i].Close <= poleEnd.Price {
		return nil
	}
	return &Detection{
		Name: NameBullFlag, Index: i, Anchors: anchors,
		HarmonicMetadata: map[string]float64{"pole_height": poleHeight},
	}
}

// detectCupAndHandle requires a left rim peak, >=3 interior valleys
// forming a U (first/last interior valleys above the minimum), a right
// rim peak within 10% of the left rim, and a handle retracement <=15% of
// the cup depth.
func detectCupAndHandle(bars []domain.Bar, pivots []domain.Pivot, i int) *Detection {
	ps := peaks(pivots)
	vs := valleys(pivots)
	if len(ps) < 2 || len(vs) < 3 {
		return nil
	}
	leftRim, rightRim := ps[len(ps)-2], ps[len(ps)-1]
	if rightRim.Index <= leftRim.Index {
		return nil
	}
	var interior []domain.Pivot
	for _, v := range vs {
		if v.Index > leftRim.Index && v.Index < rightRim.Index {
			interior = append(interior, v)
		}
	}
	if len(interior) < 3 {
		return nil
	}
	minPrice := interior[0].Price
	for _, v := range interior {
		if v.Price < minPrice {
			minPrice = v.Price
		}
	}
	if interior[0].Price <= minPrice || interior[len(interior)-1].Price <= minPrice {
		return nil
	}
	if pctDiff(leftRim.Price, rightRim.Price) > 0.10 {
		return nil
	}
	cupDepth := leftRim.Price - minPrice
	if cupDepth <= 0 {
		return nil
	}
	handleLow := bars[i].Low
	for idx := rightRim.Index + 1; idx <= i; idx++ {
		if bars[idx].Low < handleLow {
			handleLow = bars[idx].Low
		}
	}
	retracement := (rightRim.Price - handleLow) / cupDepth
	if retracement > 0.15 {
		return nil
	}
	anchors := append(append([]domain.Pivot{leftRim}, interior...), rightRim)
	if !structuralWidth(anchors) {
		return nil
	}
	if bars[i].Close <= rightRim.Price {
		return nil
	}
	return &Detection{Name: NameCupAndHandle, Index: i, Anchors: anchors}
}

// detectAscendingTriangle requires recent peaks clustered within 2% of
// their mean (flat resistance) and recent valleys monotone non-decreasing
// with total rise >=1%, confirmed by a close above the resistance.
func detectAscendingTriangle(bars []domain.Bar, pivots []domain.Pivot, i int) *Detection {
	ps := peaks(pivots)
	vs := valleys(pivots)
	if len(ps) < 2 || len(vs) < 2 {
		return nil
	}
	recentPeaks := lastN(ps, 3)
	recentValleys := lastN(vs, 3)
	mean := 0.0
	for _, p := range recentPeaks {
		mean += p.Price
	}
	mean /= float64(len(recentPeaks))
	for _, p := range recentPeaks {
		if pctDiff(p.Price, mean) > 0.02 {
			return nil
		}
	}
	for idx := 1; idx < len(recentValleys); idx++ {
		if recentValleys[idx].Price < recentValleys[idx-1].Price {
			return nil
		}
	}
	rise := (recentValleys[len(recentValleys)-1].Price - recentValleys[0].Price) / recentValleys[0].Price
	if rise < 0.01 {
		return nil
	}
	anchors := append(append([]domain.Pivot{}, recentPeaks...), recentValleys...)
	if !structuralWidth(anchors) {
		return nil
	}
	if bars[i].Close <= mean {
		return nil
	}
	return &Detection{Name: NameAscendingTriangle, Index: i, Anchors: anchors}
}

// detectFallingWedge requires strictly lower peaks and strictly lower
// valleys with the peak descent rate slower than the valley descent rate
// (converging lines), confirmed by a close breaking above the most
// recent peak.
func detectFallingWedge(bars []domain.Bar, pivots []domain.Pivot, i int) *Detection {
	ps := peaks(pivots)
	vs := valleys(pivots)
	if len(ps) < 2 || len(vs) < 2 {
		return nil
	}
	p1, p2 := ps[len(ps)-2], ps[len(ps)-1]
	v1, v2 := vs[len(vs)-2], vs[len(vs)-1]
	if p2.Price >= p1.Price || v2.Price >= v1.Price {
		return nil
	}
	if p2.Index == p1.Index || v2.Index == v1.Index {
		return nil
	}
	peakRate := (p1.Price - p2.Price) / float64(p2.Index-p1.Index)
	valleyRate := (v1.Price - v2.Price) / float64(v2.Index-v1.Index)
	if peakRate >= valleyRate {
		return nil
	}
	anchors := []domain.Pivot{v1, p1, v2, p2}
	if !structuralWidth(anchors) {
		return nil
	}
	if bars[i].Close <= p2.Price {
		return nil
	}
	return &Detection{Name: NameFallingWedge, Index: i, Anchors: anchors}
}

// detectTweezerBottoms requires two adjacent bars with matching lows
// within 0.1% and opposite colors (red then green).
func detectTweezerBottoms(bars []domain.Bar, i int) *Detection {
	if i < 1 {
		return nil
	}
	prev, cur := newCandle(bars[i-1]), newCandle(bars[i])
	if !prev.isRed || !cur.isGreen {
		return nil
	}
	if pctDiff(bars[i-1].Low, bars[i].Low) > 0.001 {
		return nil
	}
	return &Detection{Name: NameTweezerBottoms, Index: i}
}

func lastN(pivots []domain.Pivot, n int) []domain.Pivot {
	if len(pivots) <= n {
		return pivots
	}
	return pivots[len(pivots)-n:]
}
