// Package pivot implements structural pivot extraction (ZigZag) and a
// visual point-reduction routine (FastPIP), both ported from the
// Numba-JIT core loops in original_source/analysis/structural.py.
package pivot

import (
	"math"

	"github.com/aristath/cryptosignals/internal/domain"
)

// DefaultPctThreshold is the default ZigZag reversal trigger (5%).
const DefaultPctThreshold = 0.05

type trend int

const (
	trendUndetermined trend = iota
	trendUp
	trendDown
)

// FindPivots runs the single forward-pass ZigZag state machine over bars,
// emitting each confirmed extreme plus a trailing provisional pivot for
// the still-open final leg. Empty input yields empty output (spec.md
// §4.1's failure mode).
func FindPivots(bars []domain.Bar, pctThreshold float64) []domain.Pivot {
	if len(bars) == 0 {
		return nil
	}
	if pctThreshold <= 0 {
		pctThreshold = DefaultPctThreshold
	}

	var pivots []domain.Pivot

	state := trendUndetermined
	startPrice := bars[0].Close

	// During the bootstrap segment we track the running high and low
	// since the start bar; whichever leg first clears pctThreshold
	// decides the initial trend, and the *other* extreme becomes the
	// first emitted pivot (the true local opposite extreme).
	minIdx, maxIdx := 0, 0
	minPrice, maxPrice := startPrice, startPrice

	extremeIdx := 0
	extremePrice := startPrice

	for i := 1; i < len(bars); i++ {
		price := bars[i].Close

		switch state {
		case trendUndetermined:
			if price < minPrice {
				minPrice, minIdx = price, i
			}
			if price > maxPrice {
				maxPrice, maxIdx = price, i
			}
			upPct := (maxPrice - startPrice) / startPrice
			downPct := (startPrice - minPrice) / startPrice

			switch {
			case upPct >= pctThreshold && upPct >= downPct:
				// Bootstrap resolves upward: the running low is the
				// opening valley pivot; begin tracking the new high.
				pivots = append(pivots, domain.Pivot{
					Ts: bars[minIdx].Ts, Price: minPrice, Type: domain.PivotValley, Index: minIdx,
				})
				state = trendUp
				extremeIdx, extremePrice = maxIdx, maxPrice
			case downPct >= pctThreshold:
				pivots = append(pivots, domain.Pivot{
					Ts: bars[maxIdx].Ts, Price: maxPrice, Type: domain.PivotPeak, Index: maxIdx,
				})
				state = trendDown
				extremeIdx, extremePrice = minIdx, minPrice
			}

		case trendUp:
			if price > extremePrice {
				extremeIdx = i
				extremePrice = price
				continue
			}
			reversalPct := (extremePrice - price) / extremePrice
			if reversalPct >= pctThreshold {
				pivots = append(pivots, domain.Pivot{
					Ts: bars[extremeIdx].Ts, Price: extremePrice, Type: domain.PivotPeak, Index: extremeIdx,
				})
				state = trendDown
				extremeIdx = i
				extremePrice = price
			}

		case trendDown:
			if price < extremePrice {
				extremeIdx = i
				extremePrice = price
				continue
			}
			reversalPct := (price - extremePrice) / extremePrice
			if reversalPct >= pctThreshold {
				pivots = append(pivots, domain.Pivot{
					Ts: bars[extremeIdx].Ts, Price: extremePrice, Type: domain.PivotValley, Index: extremeIdx,
				})
				state = trendUp
				extremeIdx = i
				extremePrice = price
			}
		}
	}

	// Emit the trailing extreme as a provisional final pivot.
	var finalType domain.PivotType
	switch state {
	case trendUp:
		finalType = domain.PivotPeak
	case trendDown:
		finalType = domain.PivotValley
	default:
		// Bootstrap never resolved: report whichever running extreme is
		// furthest from the start price.
		if (maxPrice - startPrice) >= (startPrice - minPrice) {
			extremeIdx, extremePrice, finalType = maxIdx, maxPrice, domain.PivotPeak
		} else {
			extremeIdx, extremePrice, finalType = minIdx, minPrice, domain.PivotValley
		}
	}
	pivots = append(pivots, domain.Pivot{
		Ts: bars[extremeIdx].Ts, Price: extremePrice, Type: finalType, Index: extremeIdx,
	})

	return pivots
}

// FilterPivotsByLookback returns the pivots whose bar index is within the
// last lookbackBars of the sequence.
func FilterPivotsByLookback(pivots []domain.Pivot, totalBars, lookbackBars int) []domain.Pivot {
	cutoff := totalBars - lookbackBars
	var out []domain.Pivot
	for _, p := range pivots {
		if p.Index >= cutoff {
			out = append(out, p)
		}
	}
	return out
}

// RecentPivots returns up to n of the most recent pivots, ordered by
// index ascending — used by the Signal Parameter Factory's
// structural_anchors field (spec.md §4.4).
func RecentPivots(pivots []domain.Pivot, n int) []domain.Pivot {
	if len(pivots) <= n {
		return append([]domain.Pivot(nil), pivots...)
	}
	return append([]domain.Pivot(nil), pivots[len(pivots)-n:]...)
}

// perpendicularDistance computes the distance of point (x,y) from the
// line through (x1,y1)-(x2,y2), degrading to Euclidean point distance
// when the segment is degenerate.
func perpendicularDistance(x, y, x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	if dx == 0 && dy == 0 {
		return math.Hypot(x-x1, y-y1)
	}
	num := math.Abs(dy*x - dx*y + x2*y1 - y2*x1)
	den := math.Hypot(dx, dy)
	return num / den
}

// FastPIP reduces series to at most maxPoints perceptually important
// points via iterative Douglas-Peucker, always keeping the first and
// last point. Not used for signal generation — only for compact visual
// summaries (spec.md §4.1).
func FastPIP(series []float64, maxPoints int) []int {
	n := len(series)
	if n == 0 {
		return nil
	}
	if maxPoints >= n || maxPoints < 2 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	kept := map[int]bool{0: true, n - 1: true}
	keptList := []int{0, n - 1}

	for len(keptList) < maxPoints {
		bestIdx := -1
		bestDist := -1.0

		// sort keptList to walk consecutive segments
		sorted := append([]int(nil), keptList...)
		for i := 0; i < len(sorted); i++ {
			for j := i + 1; j < len(sorted); j++ {
				if sorted[j] < sorted[i] {
					sorted[i], sorted[j] = sorted[j], sorted[i]
				}
			}
		}

		for s := 0; s < len(sorted)-1; s++ {
			start, end := sorted[s], sorted[s+1]
			if end-start < 2 {
				continue
			}
			x1, y1 := float64(start), series[start]
			x2, y2 := float64(end), series[end]
			for i := start + 1; i < end; i++ {
				d := perpendicularDistance(float64(i), series[i], x1, y1, x2, y2)
				if d > bestDist {
					bestDist = d
					bestIdx = i
				}
			}
		}

		if bestIdx == -1 {
			break
		}
		kept[bestIdx] = true
		keptList = append(keptList, bestIdx)
	}

	out := make([]int, 0, len(keptList))
	for i := 0; i < n; i++ {
		if kept[i] {
			out = append(out, i)
		}
	}
	return out
}
