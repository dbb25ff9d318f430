package pivot

import (
	"testing"
	"time"

	"github.com/aristath/cryptosignals/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barsFromCloses(closes []float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = domain.Bar{Ts: base.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars
}

func TestFindPivots_EmptyInput(t *testing.T) {
	assert.Nil(t, FindPivots(nil, DefaultPctThreshold))
}

func TestFindPivots_BootstrapUp(t *testing.T) {
	// Clear up-move from 100 to 110 (10%) then back down to 95.
	bars := barsFromCloses([]float64{100, 102, 110, 108, 95})
	pivots := FindPivots(bars, DefaultPctThreshold)
	require.GreaterOrEqual(t, len(pivots), 2)
	assert.Equal(t, domain.PivotValley, pivots[0].Type)
	assert.Equal(t, 100.0, pivots[0].Price)
}

func TestFindPivots_AlternatesPeakValley(t *testing.T) {
	bars := barsFromCloses([]float64{100, 110, 99, 112, 98, 115})
	pivots := FindPivots(bars, DefaultPctThreshold)
	require.GreaterOrEqual(t, len(pivots), 2)
	for i := 1; i < len(pivots); i++ {
		assert.NotEqual(t, pivots[i-1].Type, pivots[i].Type, "pivots must alternate peak/valley")
	}
}

func TestFastPIP_KeepsEndpoints(t *testing.T) {
	series := []float64{1, 5, 2, 8, 3, 9, 1, 7}
	idx := FastPIP(series, 4)
	require.NotEmpty(t, idx)
	assert.Equal(t, 0, idx[0])
	assert.Equal(t, len(series)-1, idx[len(idx)-1])
	assert.LessOrEqual(t, len(idx), 4)
}

func TestFastPIP_MaxPointsExceedsSeries(t *testing.T) {
	series := []float64{1, 2, 3}
	idx := FastPIP(series, 10)
	assert.Equal(t, []int{0, 1, 2}, idx)
}

func TestRecentPivots_CapsToN(t *testing.T) {
	pivots := []domain.Pivot{{Index: 1}, {Index: 2}, {Index: 3}, {Index: 4}, {Index: 5}, {Index: 6}}
	recent := RecentPivots(pivots, 5)
	require.Len(t, recent, 5)
	assert.Equal(t, 2, recent[0].Index)
}
