// Package metrics exposes sandbox counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessionbox"

// Execution outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
	OutcomeLaunch  = "launch_error"
)

// Metrics is safe to use as a nil pointer, in which case nothing is recorded.
type Metrics struct {
	registry *prometheus.Registry

	provisioned      *prometheus.CounterVec
	provisionFailed  *prometheus.CounterVec
	active           prometheus.Gauge
	executions       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	teardownFailures prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		provisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_provisioned_total",
			Help:      "Sessions provisioned, by isolation strategy.",
		}, []string{"strategy"}),
		provisionFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_failures_total",
			Help:      "Failed session provisioning attempts, by isolation strategy.",
		}, []string{"strategy"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently registered.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Run and install calls, by action and outcome.",
		}, []string{"action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of run and install calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"action"}),
		teardownFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_failures_total",
			Help:      "Engine or filesystem errors during session teardown.",
		}),
	}

	m.registry.MustRegister(
		m.provisioned,
		m.provisionFailed,
		m.active,
		m.executions,
		m.duration,
		m.teardownFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SessionProvisioned(strategy string) {
	if m == nil {
		return
	}
	m.provisioned.WithLabelValues(strategy).Inc()
	m.active.Inc()
}

func (m *Metrics) ProvisioningFailed(strategy string) {
	if m == nil {
		return
	}
	m.provisionFailed.WithLabelValues(strategy).Inc()
}

func (m *Metrics) SessionReleased() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) ObserveExecution(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(action, outcome).Inc()
	m.duration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) TeardownFailed() {
	if m == nil {
		return
	}
	m.teardownFailures.Inc()
}
