package signal

import (
	"testing"
	"time"

	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/aristath/cryptosignals/internal/indicators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseBars(i int, ts time.Time, high, low, close float64) []domain.Bar {
	bars := make([]domain.Bar, i+1)
	for j := range bars {
		bars[j] = domain.Bar{Ts: ts.AddDate(0, 0, j-i), Close: close, High: high, Low: low}
	}
	return bars
}

func TestCheckExits_InvalidationPrecedesTakeProfit(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := baseBars(0, now, 120, 80, 90) // close below invalidation

	s := &domain.Signal{
		Status:            domain.StatusWaiting,
		Side:              domain.SideBuy,
		InvalidationPrice: 100,
		TakeProfit1:       110,
		CreatedAt:         now,
	}
	mutated := CheckExits([]*domain.Signal{s}, bars, indicators.Series{}, false)
	require.Len(t, mutated, 1)
	assert.Equal(t, domain.StatusInvalidated, s.Status)
	assert.Equal(t, domain.ExitReasonStructuralInvalidation, s.ExitReason)
}

func TestCheckExits_WaitingNeverJumpsDirectlyToTP3(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := baseBars(1, now, 95, 90, 92)
	series := indicators.Series{
		ChandelierExitLong: []float64{100, 95}, // close (92) <= chandelier (95) would be a TP3 condition if eligible
	}

	s := &domain.Signal{
		Status:            domain.StatusWaiting,
		Side:              domain.SideBuy,
		InvalidationPrice: 50,
		TakeProfit1:       200, // far above high, so TP1 not hit
		TakeProfit3:       80,
		CreatedAt:         now,
	}
	mutated := CheckExits([]*domain.Signal{s}, bars, series, false)
	assert.Empty(t, mutated)
	assert.Equal(t, domain.StatusWaiting, s.Status)
}

func TestCheckExits_TP1ThenChandelierRunnerExit(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := baseBars(0, now, 115, 100, 95) // close (95) <= chandelier (100)
	series := indicators.Series{ChandelierExitLong: []float64{100}}

	s := &domain.Signal{
		Status:            domain.StatusTP1Hit,
		Side:              domain.SideBuy,
		InvalidationPrice: 50,
		TakeProfit2:       200,
		TakeProfit3:       90,
		CreatedAt:         now.AddDate(0, 0, -3),
	}
	mutated := CheckExits([]*domain.Signal{s}, bars, series, false)
	require.Len(t, mutated, 1)
	assert.Equal(t, domain.StatusTP3Hit, s.Status)
	assert.Equal(t, domain.ExitReasonTPHit, s.ExitReason)
}

func TestCheckExits_ExpiresStaleWaitingSignal(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := baseBars(0, created.AddDate(0, 0, 3), 105, 95, 100)

	s := &domain.Signal{
		Status:            domain.StatusWaiting,
		Side:              domain.SideBuy,
		InvalidationPrice: 50,
		TakeProfit1:       200,
		CreatedAt:         created,
	}
	mutated := CheckExits([]*domain.Signal{s}, bars, indicators.Series{}, false)
	require.Len(t, mutated, 1)
	assert.Equal(t, domain.StatusExpired, s.Status)
}

func TestCooldownPolicy_ActiveWithinWindow(t *testing.T) {
	p := NewCooldownPolicy(3600, nil)
	lastExit := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, p.Active("ANY", lastExit, lastExit.Add(30*time.Minute)))
	assert.False(t, p.Active("ANY", lastExit, lastExit.Add(2*time.Hour)))
}

func TestHydrateSafeValues_ReplacesNonPositive(t *testing.T) {
	s := &domain.Signal{}
	HydrateSafeValues(s)
	assert.Greater(t, s.SuggestedStop, 0.0)
	assert.Greater(t, s.TakeProfit1, 0.0)
	assert.Greater(t, s.TakeProfit2, 0.0)
	assert.Greater(t, s.TakeProfit3, 0.0)
}
