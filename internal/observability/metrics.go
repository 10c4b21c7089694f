// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Ledger metrics
	OperationsSubmitted *prometheus.CounterVec
	OperationOutcomes   *prometheus.CounterVec
	ConfirmationLatency *prometheus.HistogramVec
	RPCCallLatency      *prometheus.HistogramVec
	RPCCallErrors       *prometheus.CounterVec

	// Service metrics
	EscrowResolutions *prometheus.CounterVec
	VaultFundings     *prometheus.CounterVec
	Swaps             *prometheus.CounterVec
	Errors            *prometheus.CounterVec

	// Session metrics
	ActiveSessions prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "hybrid_swap"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		OperationsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_submitted_total",
			Help:      "Total number of operations submitted by kind",
		}, []string{"kind"}),
		OperationOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_outcomes_total",
			Help:      "Total number of operation outcomes by kind and status",
		}, []string{"kind", "status"}),
		ConfirmationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "confirmation_latency_seconds",
			Help:      "Time from submission to confirmation",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		}, []string{"kind"}),
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "RPC call latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_errors_total",
			Help:      "Total number of failed RPC calls by method",
		}, []string{"method"}),

		EscrowResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "resolutions_total",
			Help:      "Total number of escrow resolutions by final state",
		}, []string{"state"}),
		VaultFundings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "vault_fundings_total",
			Help:      "Total number of vault funding checks by result",
		}, []string{"result"}),
		Swaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "executions_total",
			Help:      "Total number of swap executions by direction and outcome",
		}, []string{"direction", "outcome"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "errors_total",
			Help:      "Total number of typed errors by code",
		}, []string{"code"}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wizard",
			Name:      "active_sessions",
			Help:      "Number of open wizard sessions",
		}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSubmitted counts a submitted operation.
func (m *Metrics) RecordSubmitted(kind string) {
	if m == nil {
		return
	}
	m.OperationsSubmitted.WithLabelValues(kind).Inc()
}

// RecordOutcome counts an operation outcome and, when confirmed, its latency.
func (m *Metrics) RecordOutcome(kind, status string, sinceSubmit time.Duration) {
	if m == nil {
		return
	}
	m.OperationOutcomes.WithLabelValues(kind, status).Inc()
	if status == "confirmed" {
		m.ConfirmationLatency.WithLabelValues(kind).Observe(sinceSubmit.Seconds())
	}
}

// RecordRPC records RPC call latency; it matches the RPC client observer signature.
func (m *Metrics) RecordRPC(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordResolution counts an escrow resolution ending in state.
func (m *Metrics) RecordResolution(state string) {
	if m == nil {
		return
	}
	m.EscrowResolutions.WithLabelValues(state).Inc()
}

// RecordFunding counts a funding check ("noop", "funded", "failed").
func (m *Metrics) RecordFunding(result string) {
	if m == nil {
		return
	}
	m.VaultFundings.WithLabelValues(result).Inc()
}

// RecordSwap counts a swap execution.
func (m *Metrics) RecordSwap(direction, outcome string) {
	if m == nil {
		return
	}
	m.Swaps.WithLabelValues(direction, outcome).Inc()
}

// RecordError counts a typed error by code.
func (m *Metrics) RecordError(code string) {
	if m == nil || code == "" {
		return
	}
	m.Errors.WithLabelValues(code).Inc()
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(d.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
