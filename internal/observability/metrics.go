package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is a
// valid no-op so tests can skip wiring it.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	errorsTotal      *prometheus.CounterVec
	workflowOutcomes *prometheus.CounterVec
	sessionsExpired  *prometheus.CounterVec
	trackerCalls     *prometheus.CounterVec
}

// NewMetrics registers collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_http_errors_total",
			Help: "HTTP requests that ended in a domain error",
		}, []string{"method", "route", "code"}),
		workflowOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_workflow_outcomes_total",
			Help: "Workflow events by resulting outcome",
		}, []string{"outcome"}),
		sessionsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_sessions_expired_total",
			Help: "Sessions removed for inactivity",
		}, []string{"reason"}),
		trackerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_tracker_calls_total",
			Help: "Issue tracker calls by operation and result",
		}, []string{"operation", "result"}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(method, route, code).Inc()
}

// RecordOutcome counts one handled workflow event.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.workflowOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSessionExpired counts a session removed by lazy expiry or the sweep.
func (m *Metrics) RecordSessionExpired(reason string) {
	if m == nil {
		return
	}
	m.sessionsExpired.WithLabelValues(reason).Inc()
}

// RecordTrackerCall counts one tracker call.
func (m *Metrics) RecordTrackerCall(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.trackerCalls.WithLabelValues(operation, result).Inc()
}
