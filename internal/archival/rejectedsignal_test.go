package archival

import (
	"testing"

	"github.com/aristath/cryptosignals/internal/domain"
)

func TestTheoreticalOutcome_BuyHitsStopFirst(t *testing.T) {
	s := domain.Signal{Side: domain.SideBuy, EntryPrice: 100, SuggestedStop: 90, TakeProfit1: 120}
	bars := []domain.Bar{{Low: 85, High: 105}}

	outcome, pnlPct := theoreticalOutcome(s, bars)
	if outcome != "WOULD_HAVE_LOST" {
		t.Fatalf("expected WOULD_HAVE_LOST, got %s", outcome)
	}
	if pnlPct >= 0 {
		t.Fatalf("expected a negative theoretical P&L, got %v", pnlPct)
	}
}

func TestTheoreticalOutcome_BuyHitsTP1First(t *testing.T) {
	s := domain.Signal{Side: domain.SideBuy, EntryPrice: 100, SuggestedStop: 90, TakeProfit1: 110}
	bars := []domain.Bar{{Low: 95, High: 112}}

	outcome, pnlPct := theoreticalOutcome(s, bars)
	if outcome != "WOULD_HAVE_WON" {
		t.Fatalf("expected WOULD_HAVE_WON, got %s", outcome)
	}
	if pnlPct <= 0 {
		t.Fatalf("expected a positive theoretical P&L, got %v", pnlPct)
	}
}

func TestTheoreticalOutcome_UnresolvedWhenNeitherLevelReached(t *testing.T) {
	s := domain.Signal{Side: domain.SideBuy, EntryPrice: 100, SuggestedStop: 90, TakeProfit1: 120}
	bars := []domain.Bar{{Low: 95, High: 105}}

	outcome, _ := theoreticalOutcome(s, bars)
	if outcome != "UNRESOLVED" {
		t.Fatalf("expected UNRESOLVED, got %s", outcome)
	}
}
