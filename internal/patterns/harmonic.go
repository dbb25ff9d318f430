package patterns

import "github.com/aristath/cryptosignals/internal/domain"

// ratioTolerance is the ±0.1% precision gate applied to every Fibonacci
// ratio check (spec.md §4.3).
const ratioTolerance = 0.001

// calculateRatio computes |p3.price - p2.price| / |p2.price - p1.price|,
// the shared harmonic ratio formula.
func calculateRatio(p1, p2, p3 domain.Pivot) float64 {
	denom := absF(p2.Price - p1.Price)
	if denom == 0 {
		return 0
	}
	return absF(p3.Price-p2.Price) / denom
}

// matchesTarget reports whether ratio is within ±0.1% of target.
func matchesTarget(ratio, target float64) bool {
	return absF(ratio-target) <= ratioTolerance*target
}

// matchesRange reports whether ratio falls within [lo,hi], each bound
// widened by the same 0.1% tolerance.
func matchesRange(ratio, lo, hi float64) bool {
	return ratio >= lo*(1-ratioTolerance) && ratio <= hi*(1+ratioTolerance)
}

// harmonicPivots returns the last five pivots (X, A, B, C, D in that
// order) needed for 5-point harmonic validation, or ok=false if fewer
// than five are available.
func harmonicPivots(pivots []domain.Pivot) (x, a, b, c, d domain.Pivot, ok bool) {
	if len(pivots) < 5 {
		return
	}
	tail := pivots[len(pivots)-5:]
	return tail[0], tail[1], tail[2], tail[3], tail[4], true
}

// detectGartley validates X-A-B-C-D against the Gartley ratios: B
// retraces 0.618 of XA, D retraces 0.786 of XA.
func detectGartley(pivots []domain.Pivot) *Detection {
	x, a, b, c, d, ok := harmonicPivots(pivots)
	if !ok {
		return nil
	}
	bRatio := calculateRatio(x, a, b)
	dRatio := calculateRatio(x, a, d)
	if !matchesTarget(bRatio, 0.618) || !matchesTarget(dRatio, 0.786) {
		return nil
	}
	return harmonicDetection(NameGartley, []domain.Pivot{x, a, b, c, d}, map[string]float64{"b_xa": bRatio, "d_xa": dRatio})
}

// detectBat validates the Bat ratios: B retraces [0.382,0.500] of XA, D
// retraces 0.886 of XA.
func detectBat(pivots []domain.Pivot) *Detection {
	x, a, b, c, d, ok := harmonicPivots(pivots)
	if !ok {
		return nil
	}
	bRatio := calculateRatio(x, a, b)
	dRatio := calculateRatio(x, a, d)
	if !matchesRange(bRatio, 0.382, 0.500) || !matchesTarget(dRatio, 0.886) {
		return nil
	}
	return harmonicDetection(NameBat, []domain.Pivot{x, a, b, c, d}, map[string]float64{"b_xa": bRatio, "d_xa": dRatio})
}

// detectButterfly validates the Butterfly ratios: B retraces 0.786 of XA,
// D extends to 1.270 of XA.
func detectButterfly(pivots []domain.Pivot) *Detection {
	x, a, b, c, d, ok := harmonicPivots(pivots)
	if !ok {
		return nil
	}
	bRatio := calculateRatio(x, a, b)
	dRatio := calculateRatio(x, a, d)
	if !matchesTarget(bRatio, 0.786) || !matchesTarget(dRatio, 1.270) {
		return nil
	}
	return harmonicDetection(NameButterfly, []domain.Pivot{x, a, b, c, d}, map[string]float64{"b_xa": bRatio, "d_xa": dRatio})
}

// detectCrab validates the Crab ratios: B retraces [0.382,0.618] of XA, D
// extends to 1.618 of XA.
func detectCrab(pivots []domain.Pivot) *Detection {
	x, a, b, c, d, ok := harmonicPivots(pivots)
	if !ok {
		return nil
	}
	bRatio := calculateRatio(x, a, b)
	dRatio := calculateRatio(x, a, d)
	if !matchesRange(bRatio, 0.382, 0.618) || !matchesTarget(dRatio, 1.618) {
		return nil
	}
	return harmonicDetection(NameCrab, []domain.Pivot{x, a, b, c, d}, map[string]float64{"b_xa": bRatio, "d_xa": dRatio})
}

// detectABCD validates |AB| ≈ |CD| and Δt(AB) ≈ Δt(CD), both at 1.000
// ±0.1%, over the last four pivots A,B,C,D.
func detectABCD(pivots []domain.Pivot) *Detection {
	if len(pivots) < 4 {
		return nil
	}
	tail := pivots[len(pivots)-4:]
	a, b, c, d := tail[0], tail[1], tail[2], tail[3]
	abLen := absF(b.Price - a.Price)
	cdLen := absF(d.Price - c.Price)
	if abLen == 0 {
		return nil
	}
	priceRatio := cdLen / abLen
	abTime := float64(b.Index - a.Index)
	cdTime := float64(d.Index - c.Index)
	if abTime == 0 {
		return nil
	}
	timeRatio := cdTime / abTime
	if !matchesTarget(priceRatio, 1.0) || !matchesTarget(timeRatio, 1.0) {
		return nil
	}
	return harmonicDetection(NameABCD, []domain.Pivot{a, b, c, d}, map[string]float64{"price_ratio": priceRatio, "time_ratio": timeRatio})
}

// detectElliott135 validates an alternating impulse: wave 3 (A->B->C)
// larger than wave 1 (the prior leg), and wave 4 not retracing into wave
// 1's territory.
func detectElliott135(pivots []domain.Pivot) *Detection {
	if len(pivots) < 5 {
		return nil
	}
	tail := pivots[len(pivots)-5:]
	p0, p1, p2, p3, p4 := tail[0], tail[1], tail[2], tail[3], tail[4]
	types := []domain.PivotType{p0.Type, p1.Type, p2.Type, p3.Type, p4.Type}
	for i := 1; i < len(types); i++ {
		if types[i] == types[i-1] {
			return nil // must alternate peak/valley
		}
	}
	wave1 := absF(p1.Price - p0.Price)
	wave3 := absF(p3.Price - p2.Price)
	if wave3 <= wave1 {
		return nil
	}
	// Wave 4 (p3->p4) must not retrace into wave 1's price territory.
	if p0.Type == domain.PivotValley {
		if p4.Price <= p1.Price {
			return nil
		}
	} else {
		if p4.Price >= p1.Price {
			return nil
		}
	}
	return harmonicDetection(NameElliott135, []domain.Pivot{p0, p1, p2, p3, p4}, map[string]float64{"wave1": wave1, "wave3": wave3})
}

func harmonicDetection(name Name, anchors []domain.Pivot, metadata map[string]float64) *Detection {
	if !structuralWidth(anchors) {
		return nil
	}
	classification := domain.ClassificationHarmonic
	spanDays := anchors[len(anchors)-1].Ts.Sub(anchors[0].Ts).Hours() / 24
	if spanDays > domain.MacroThresholdDays {
		classification = domain.ClassificationMacroHarmonic
	}
	return &Detection{
		Name:             name,
		Index:            anchors[len(anchors)-1].Index,
		Classification:   classification,
		DurationDays:     int(spanDays),
		Anchors:          anchors,
		HarmonicMetadata: metadata,
	}
}

// DetectHarmonics runs every harmonic validator over the given pivot
// sequence and returns all that pass, since harmonics are additional
// confluence rather than a single mutually-exclusive primary (spec.md
// §4.3's "Priority" section).
func DetectHarmonics(pivots []domain.Pivot) []*Detection {
	candidates := []*Detection{
		detectGartley(pivots),
		detectBat(pivots),
		detectButterfly(pivots),
		detectCrab(pivots),
		detectABCD(pivots),
		detectElliott135(pivots),
	}
	var out []*Detection
	for _, d := range candidates {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}
