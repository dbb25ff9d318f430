package indicators

import (
	"testing"
	"time"

	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barsFromCloses(n int, start float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		price += float64(i%5) - 2
		bars[i] = domain.Bar{
			Ts: base.AddDate(0, 0, i), Open: price, High: price + 1, Low: price - 1,
			Close: price, Volume: 1000 + float64(i),
		}
	}
	return bars
}

func TestCompute_EmptyInput(t *testing.T) {
	s := Compute(nil)
	assert.Nil(t, s.EMA50)
	assert.Nil(t, s.RSI14)
}

func TestCompute_InsufficientHistoryLeavesColumnsNil(t *testing.T) {
	bars := barsFromCloses(20, 100)
	s := Compute(bars)
	assert.Nil(t, s.EMA50, "EMA50 needs 50 bars")
	assert.Nil(t, s.ADX14, "ADX14 needs 28 bars")
	assert.NotNil(t, s.RSI14)
}

func TestCompute_FullHistoryPopulatesAllColumns(t *testing.T) {
	bars := barsFromCloses(100, 100)
	s := Compute(bars)
	require.NotNil(t, s.EMA50)
	require.NotNil(t, s.RSI14)
	require.NotNil(t, s.ATR14)
	require.NotNil(t, s.ATRSMA20)
	require.NotNil(t, s.BollingerLower20)
	require.NotNil(t, s.MFI14)
	require.NotNil(t, s.ADX14)
	require.NotNil(t, s.KeltnerUpper20)
	require.NotNil(t, s.VolumeSMA20)
	require.NotNil(t, s.ChandelierExitLong)

	if v, ok := At(s.EMA50, len(bars)-1); ok {
		assert.Greater(t, v, 0.0)
	} else {
		t.Fatal("expected last EMA50 value to be present")
	}
}

func TestAt_OutOfRangeAndNaN(t *testing.T) {
	_, ok := At(nil, 0)
	assert.False(t, ok)

	series := []float64{1, 2, nan, 4}
	_, ok = At(series, 2)
	assert.False(t, ok)

	v, ok := At(series, 3)
	assert.True(t, ok)
	assert.Equal(t, 4.0, v)

	_, ok = At(series, 10)
	assert.False(t, ok)
}
