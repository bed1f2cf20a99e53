package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision outcomes recorded by RecordDecision.
const (
	OutcomeAllow        = "allow"
	OutcomeReject       = "reject"
	OutcomeShortCircuit = "short_circuit"
	OutcomeError        = "error"
)

// Metrics holds the Prometheus collectors of the admission pipeline.
type Metrics struct {
	decisions          *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	rateLimitRejects   *prometheus.CounterVec
	rateLimitStoreErrs *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	originRejects      prometheus.Counter
	requests           *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	panics             prometheus.Counter
	registry           *prometheus.Registry
}

// NewMetrics creates a Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "admission"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Admission decisions by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent deciding per stage",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"stage"},
	)

	m.rateLimitRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Requests rejected because quota was exhausted",
		},
		[]string{"limiter"},
	)

	m.rateLimitStoreErrs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "store_errors_total",
			Help:      "Rate limit store failures by limiter and applied policy",
		},
		[]string{"limiter", "policy"},
	)

	m.validationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "failures_total",
			Help:      "Validation failures by request part",
		},
		[]string{"part"},
	)

	m.originRejects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "origin",
			Name:      "rejections_total",
			Help:      "Requests rejected by the origin policy",
		},
	)

	m.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code",
		},
		[]string{"method", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.panics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "panics_recovered_total",
			Help:      "Handler panics turned into 500 responses",
		},
	)

	m.registry.MustRegister(
		m.decisions,
		m.stageDuration,
		m.rateLimitRejects,
		m.rateLimitStoreErrs,
		m.validationFailures,
		m.originRejects,
		m.requests,
		m.requestDuration,
		m.panics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordDecision records the outcome of one stage and how long it took.
func (m *Metrics) RecordDecision(stage, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordRateLimitRejection counts a quota rejection for limiter.
func (m *Metrics) RecordRateLimitRejection(limiter string) {
	if m == nil {
		return
	}
	m.rateLimitRejects.WithLabelValues(limiter).Inc()
}

// RecordRateLimitStoreError counts a store failure and the policy applied to it.
func (m *Metrics) RecordRateLimitStoreError(limiter, policy string) {
	if m == nil {
		return
	}
	m.rateLimitStoreErrs.WithLabelValues(limiter, policy).Inc()
}

// RecordValidationFailure counts a failed request part.
func (m *Metrics) RecordValidationFailure(part string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(part).Inc()
}

// RecordOriginRejection counts an origin denial.
func (m *Metrics) RecordOriginRejection() {
	if m == nil {
		return
	}
	m.originRejects.Inc()
}

// RecordRequest records a served HTTP request.
func (m *Metrics) RecordRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordPanic counts a recovered handler panic.
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.panics.Inc()
}

// Registry returns the registry so other components can add collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
