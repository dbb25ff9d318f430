package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	m.SignalsGenerated.WithLabelValues("crypto", "BULL_FLAG").Inc()
	m.OpenPositions.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewResourceMonitor_CheckPassesBelowThreshold(t *testing.T) {
	reg := prometheus.NewRegistry()
	mon := NewResourceMonitor(reg, zerolog.Nop())
	mon.lastMemPct = 50.0

	assert.NoError(t, mon.Check(nil))
}

func TestNewResourceMonitor_CheckDegradesAboveThreshold(t *testing.T) {
	reg := prometheus.NewRegistry()
	mon := NewResourceMonitor(reg, zerolog.Nop())
	mon.lastMemPct = 99.0

	assert.Error(t, mon.Check(nil))
}

func TestInitSentry_NoopWithoutDSN(t *testing.T) {
	shutdown, err := InitSentry("", "DEV", zerolog.Nop())
	require.NoError(t, err)
	shutdown()
}

func TestFormatDuration(t *testing.T) {
	got := FormatDuration(3 * time.Second)
	assert.NotEmpty(t, got)
}
