package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// maxHealthyMemPct mirrors nothing in spec.md directly; it's a sane default
// threshold for the resource health check to degrade on, the same role
// system_handlers.go's getSystemStats plays for the teacher's LED "STATS"
// display, here repurposed into a pass/fail gate instead of a readout.
const maxHealthyMemPct = 95.0

// ResourceMonitor samples host CPU/memory on an interval and exposes the
// readings both as Prometheus gauges and as a server.HealthChecker, the way
// the teacher's system_handlers.go samples gopsutil inline per request —
// generalized here into a background sampler so /healthz stays cheap.
type ResourceMonitor struct {
	log zerolog.Logger

	cpuGauge prometheus.Gauge
	memGauge prometheus.Gauge

	lastMemPct float64
}

// NewResourceMonitor constructs the monitor and registers its gauges
// against reg.
func NewResourceMonitor(reg prometheus.Registerer, log zerolog.Logger) *ResourceMonitor {
	m := &ResourceMonitor{
		log: log.With().Str("component", "resource_monitor").Logger(),
		cpuGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cryptosignals",
			Name:      "host_cpu_percent",
			Help:      "Host CPU utilization, sampled over a 100ms window.",
		}),
		memGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cryptosignals",
			Name:      "host_memory_percent",
			Help:      "Host virtual memory utilization.",
		}),
	}
	reg.MustRegister(m.cpuGauge, m.memGauge)
	return m
}

// Run samples host resources every interval until ctx is cancelled. Meant to
// run as a background goroutine for the lifetime of the process.
func (m *ResourceMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *ResourceMonitor) sample() {
	cpuPct, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to sample CPU usage")
	} else if len(cpuPct) > 0 {
		m.cpuGauge.Set(cpuPct[0])
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to sample memory usage")
		return
	}
	m.memGauge.Set(vm.UsedPercent)
	m.lastMemPct = vm.UsedPercent
}

// Name implements server.HealthChecker.
func (m *ResourceMonitor) Name() string { return "host_resources" }

// Check implements server.HealthChecker: degrades once memory pressure
// crosses maxHealthyMemPct. CPU is reported but never gates health — a
// single-process signal engine legitimately bursts CPU during a pattern
// scan without that indicating an unhealthy host.
func (m *ResourceMonitor) Check(ctx context.Context) error {
	if m.lastMemPct > maxHealthyMemPct {
		return fmt.Errorf("memory usage %.1f%% exceeds %.1f%% threshold", m.lastMemPct, maxHealthyMemPct)
	}
	return nil
}
