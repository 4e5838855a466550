// Package observability provides Prometheus metrics and drift statistics for
// snapshot and check operations.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	serrors "github.com/shelfard/shelfard/internal/errors"
	"github.com/shelfard/shelfard/pkg/types"
)

const namespace = "shelfard"

// Metrics holds the collectors for one process. Collectors live on a private
// registry so tests and embedded uses never collide on the global one.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	snapshots     *prometheus.CounterVec
	checks        *prometheus.CounterVec
	changes       *prometheus.CounterVec
	failures      *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	opDuration    *prometheus.HistogramVec
	latestVersion *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots registered, by schema name.",
		}, []string{"name"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Completed drift checks, by schema name and outcome.",
		}, []string{"name", "outcome"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Detected schema changes, by change type and severity.",
		}, []string{"change_type", "severity"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed operations, by operation and error code.",
		}, []string{"operation", "code"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching source payloads.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "End-to-end duration of snapshot and check operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		latestVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_version",
			Help:      "Highest registered version, by schema name.",
		}, []string{"name"}),
	}

	m.registry.MustRegister(
		m.snapshots, m.checks, m.changes, m.failures,
		m.fetchDuration, m.opDuration, m.latestVersion,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records one fetch attempt.
func (m *Metrics) ObserveFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetchDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveSnapshot records a registered version.
func (m *Metrics) ObserveSnapshot(name string, version int, d time.Duration) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(name).Inc()
	m.latestVersion.WithLabelValues(name).Set(float64(version))
	m.opDuration.WithLabelValues("snapshot").Observe(d.Seconds())
}

// ObserveCheck records a completed check and its changes.
func (m *Metrics) ObserveCheck(name, outcome string, diff types.SchemaDiff, d time.Duration) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(name, outcome).Inc()
	for _, c := range diff.Changes {
		m.changes.WithLabelValues(string(c.ChangeType), c.Severity.String()).Inc()
	}
	m.opDuration.WithLabelValues("check").Observe(d.Seconds())
}

// ObserveFailure records a failed operation under its error code.
func (m *Metrics) ObserveFailure(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	code := serrors.GetCode(err)
	if code == "" {
		code = serrors.CodeUnexpected
	}
	m.failures.WithLabelValues(operation, code).Inc()
}
