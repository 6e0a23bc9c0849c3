// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"solana-reward-distributor/internal/domain"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Cycle metrics
	CyclesTotal         *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	HoldersTotal        prometheus.Gauge
	HoldersQualified    prometheus.Gauge
	RewardDistributed   prometheus.Gauge
	LastSuccessfulCycle prometheus.Gauge

	// Submission metrics
	BatchesTotal   *prometheus.CounterVec
	AttemptsTotal  *prometheus.CounterVec
	BackoffSeconds prometheus.Histogram

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	mu     sync.Mutex
	starts map[string]int64
}

// NewMetrics creates a Metrics instance registered with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers metrics with reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "reward_distributor"
	}
	f := promauto.With(reg)

	return &Metrics{
		// Cycle metrics
		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total number of distribution cycles by final status",
		}, []string{"status"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall time of a distribution cycle",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		HoldersTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "holders_total",
			Help:      "Holders seen in the last cycle",
		}),
		HoldersQualified: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "holders_qualified",
			Help:      "Qualified holders in the last cycle",
		}),
		RewardDistributed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "reward_amount",
			Help:      "Total reward planned in the last cycle, in reward asset units",
		}),
		LastSuccessfulCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of the last completed cycle",
		}),

		// Submission metrics
		BatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "batches_total",
			Help:      "Batches by terminal state",
		}, []string{"state"}),
		AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "attempts_total",
			Help:      "Submission attempts by outcome",
		}, []string{"outcome"}),
		BackoffSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submission",
			Name:      "backoff_seconds",
			Help:      "Backoff applied after retryable attempts",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),

		// Latency metrics
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "RPC call latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_errors_total",
			Help:      "Failed RPC calls",
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		starts: make(map[string]int64),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRPCCall records one RPC call. Matches solana.CallObserver.
func (m *Metrics) RecordRPCCall(method string, d time.Duration, err error) {
	m.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, d time.Duration, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(d.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// Cycle implements events.Sink.
func (m *Metrics) Cycle(_ context.Context, ev domain.CycleEvent) {
	if ev.Phase == domain.PhaseStart {
		m.mu.Lock()
		m.starts[ev.CycleID] = ev.At
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	started, ok := m.starts[ev.CycleID]
	delete(m.starts, ev.CycleID)
	m.mu.Unlock()
	if ok && ev.At >= started {
		m.CycleDuration.Observe(float64(ev.At-started) / 1000)
	}

	m.CyclesTotal.WithLabelValues(string(ev.Status)).Inc()
	m.HoldersTotal.Set(float64(ev.HoldersTotal))
	m.HoldersQualified.Set(float64(ev.HoldersQualified))
	m.RewardDistributed.Set(ev.TotalReward.InexactFloat64())
	if ev.Status == domain.CycleCompleted || ev.Status == domain.CycleEmpty {
		m.LastSuccessfulCycle.Set(float64(ev.At) / 1000)
	}
}

// Attempt implements events.Sink.
func (m *Metrics) Attempt(_ context.Context, ev domain.AttemptEvent) {
	m.AttemptsTotal.WithLabelValues(string(ev.Outcome)).Inc()
	if ev.BackoffMs > 0 {
		m.BackoffSeconds.Observe(float64(ev.BackoffMs) / 1000)
	}
	if ev.Outcome.IsTerminal() {
		m.BatchesTotal.WithLabelValues(string(ev.Outcome)).Inc()
	}
}
