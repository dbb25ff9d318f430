package archival

import "testing"

func TestCalmarRatio_HistoryUnder30DaysReturnsZero(t *testing.T) {
	curve := make([]float64, 10)
	for i := range curve {
		curve[i] = 1000 + float64(i)
	}
	if got := calmarRatio(curve, 1200); got != 0.0 {
		t.Fatalf("expected 0 for short history, got %v", got)
	}
}

func TestCalmarRatio_NonPositiveStartEquityReturnsZero(t *testing.T) {
	curve := make([]float64, 30)
	curve[0] = 0
	for i := 1; i < 30; i++ {
		curve[i] = 1000
	}
	if got := calmarRatio(curve, 1000); got != 0.0 {
		t.Fatalf("expected 0 for non-positive start equity, got %v", got)
	}
}

func TestCalmarRatio_ZeroDrawdownReturnsZero(t *testing.T) {
	curve := make([]float64, 30)
	for i := range curve {
		curve[i] = 1000 // flat equity curve: never dips below the running peak
	}
	if got := calmarRatio(curve, 1000); got != 0.0 {
		t.Fatalf("expected 0 for zero max drawdown, got %v", got)
	}
}

func TestCalmarRatio_PositiveReturnOverDrawdown(t *testing.T) {
	curve := make([]float64, 30)
	curve[0] = 1000
	for i := 1; i < 30; i++ {
		curve[i] = 1000 + float64(i)*10
	}
	curve[15] = 1100 // a dip creating a drawdown from the running peak

	got := calmarRatio(curve, curve[len(curve)-1])
	if got <= 0 {
		t.Fatalf("expected a positive Calmar ratio for a generally rising curve, got %v", got)
	}
}

func TestSharpeRatio_RisingCurveIsPositive(t *testing.T) {
	curve := make([]float64, 30)
	curve[0] = 1000
	for i := 1; i < 30; i++ {
		curve[i] = 1000 + float64(i)*5
	}

	got := sharpeRatio(curve, curve[len(curve)-1]+5)
	if got <= 0 {
		t.Fatalf("expected a positive Sharpe ratio for a steadily rising curve, got %v", got)
	}
}

func TestSharpeRatio_TooShortHistoryReturnsZero(t *testing.T) {
	if got := sharpeRatio(nil, 1000); got != 0.0 {
		t.Fatalf("expected 0 for insufficient history, got %v", got)
	}
}
