// Package observability carries the engine's ambient monitoring stack:
// Prometheus metrics, gopsutil resource gauges, and Sentry crash capture,
// grounded on pkg/logger/logger.go's Config/New wiring pattern and
// internal/server/system_handlers.go's gopsutil usage (trader repo), now
// generalized into a registerable metrics/health surface instead of inline
// handler code.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every custom collector the signal engine exposes at
// /metrics, beyond the Go runtime/process defaults promhttp already
// registers.
type Metrics struct {
	SignalsGenerated  *prometheus.CounterVec
	SignalsRejected   *prometheus.CounterVec
	OrdersSubmitted   *prometheus.CounterVec
	PipelineRuns      *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec
	ReconcileAnomaly  *prometheus.CounterVec
	JobLockContention *prometheus.CounterVec
	OpenPositions     prometheus.Gauge
}

// NewMetrics constructs and registers every collector against reg. Passing
// a fresh prometheus.NewRegistry() (rather than the global
// DefaultRegisterer) keeps tests free of cross-test collector collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptosignals",
			Name:      "signals_generated_total",
			Help:      "Signals produced by the pattern engine, by asset class and pattern.",
		}, []string{"asset_class", "pattern"}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptosignals",
			Name:      "signals_rejected_total",
			Help:      "Signals blocked by the risk engine, by gate name.",
		}, []string{"gate"}),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptosignals",
			Name:      "orders_submitted_total",
			Help:      "Broker orders submitted, by asset class and side.",
		}, []string{"asset_class", "side"}),
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptosignals",
			Subsystem: "archival",
			Name:      "pipeline_runs_total",
			Help:      "Archival pipeline runs, by pipeline name and outcome.",
		}, []string{"pipeline", "outcome"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cryptosignals",
			Subsystem: "archival",
			Name:      "pipeline_duration_seconds",
			Help:      "Wall-clock duration of a single archival pipeline run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline"}),
		ReconcileAnomaly: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptosignals",
			Subsystem: "reconciler",
			Name:      "anomalies_total",
			Help:      "Reconciler-detected anomalies, by kind (zombie, orphan, reverse_orphan).",
		}, []string{"kind"}),
		JobLockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cryptosignals",
			Subsystem: "scheduler",
			Name:      "job_lock_contention_total",
			Help:      "Scheduled job runs skipped because another instance already held the lock.",
		}, []string{"job"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cryptosignals",
			Name:      "open_positions",
			Help:      "Currently open positions across both asset classes.",
		}),
	}

	reg.MustRegister(
		m.SignalsGenerated,
		m.SignalsRejected,
		m.OrdersSubmitted,
		m.PipelineRuns,
		m.PipelineDuration,
		m.ReconcileAnomaly,
		m.JobLockContention,
		m.OpenPositions,
	)
	return m
}
