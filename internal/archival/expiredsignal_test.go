package archival

import (
	"testing"
	"time"

	"github.com/aristath/cryptosignals/internal/domain"
)

func TestMaxFavorableExcursion_Buy(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := created.Add(5 * 24 * time.Hour)
	s := domain.Signal{Side: domain.SideBuy, EntryPrice: 100, CreatedAt: created, ValidUntil: valid}

	bars := []domain.Bar{
		{Ts: created.Add(24 * time.Hour), High: 110, Low: 95},
		{Ts: created.Add(48 * time.Hour), High: 108, Low: 97},
		{Ts: valid.Add(time.Hour), High: 200, Low: 190}, // outside validity window, must be ignored
	}

	mfe, distance := maxFavorableExcursion(s, bars)
	if mfe != 10 {
		t.Fatalf("expected MFE 10 (110-100), got %v", mfe)
	}
	if distance <= 0 {
		t.Fatalf("expected a positive distance-to-trigger, got %v", distance)
	}
}

func TestMaxFavorableExcursion_Sell(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := created.Add(5 * 24 * time.Hour)
	s := domain.Signal{Side: domain.SideSell, EntryPrice: 100, CreatedAt: created, ValidUntil: valid}

	bars := []domain.Bar{
		{Ts: created.Add(24 * time.Hour), High: 104, Low: 90},
	}

	mfe, _ := maxFavorableExcursion(s, bars)
	if mfe != 10 {
		t.Fatalf("expected MFE 10 (100-90), got %v", mfe)
	}
}
