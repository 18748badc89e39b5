// ABOUTME: Prometheus metrics for exchanges, backend calls, admission, and HTTP traffic
// ABOUTME: Collectors register on an injectable registerer; a nil *Metrics records nothing

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_gateway"

// Metrics groups the gateway collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	exchangesTotal      *prometheus.CounterVec
	exchangeDuration    *prometheus.HistogramVec
	exchangesInFlight   prometheus.Gauge
	backendRetries      prometheus.Counter
	backendErrors       *prometheus.CounterVec
	tokensTotal         *prometheus.CounterVec
	admissionRejections *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New registers the collectors on reg. gatherer serves the /metrics endpoint.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		exchangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Exchanges by terminal state",
		}, []string{"state"}),

		exchangeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Exchange duration from registration to finalization",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}, []string{"state"}),

		exchangesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exchanges_in_flight",
			Help:      "Exchanges currently registered",
		}),

		backendRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Backend calls retried with another credential",
		}),

		backendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend call failures by kind",
		}, []string{"kind"}),

		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens recorded in the usage ledger",
		}, []string{"kind"}),

		admissionRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Requests rejected by a rate limit bucket",
		}, []string{"bucket"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// NewUnregistered returns Metrics on a private registry, for tests.
func NewUnregistered() *Metrics {
	reg := prometheus.NewRegistry()
	return New(reg, reg)
}

// ExchangeStarted increments the in-flight gauge.
func (m *Metrics) ExchangeStarted() {
	if m == nil {
		return
	}
	m.exchangesInFlight.Inc()
}

// ExchangeFinished records a terminal state.
func (m *Metrics) ExchangeFinished(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchangesInFlight.Dec()
	m.exchangesTotal.WithLabelValues(state).Inc()
	m.exchangeDuration.WithLabelValues(state).Observe(d.Seconds())
}

// BackendRetry counts a retry with an alternate credential.
func (m *Metrics) BackendRetry() {
	if m == nil {
		return
	}
	m.backendRetries.Inc()
}

// BackendError counts a failed backend call.
func (m *Metrics) BackendError(kind string) {
	if m == nil {
		return
	}
	m.backendErrors.WithLabelValues(kind).Inc()
}

// Tokens adds recorded token counts.
func (m *Metrics) Tokens(prompt, completion int, estimated bool) {
	if m == nil {
		return
	}
	suffix := ""
	if estimated {
		suffix = "_estimated"
	}
	m.tokensTotal.WithLabelValues("prompt" + suffix).Add(float64(prompt))
	m.tokensTotal.WithLabelValues("completion" + suffix).Add(float64(completion))
}

// AdmissionRejected counts a rate-limited request.
func (m *Metrics) AdmissionRejected(bucket string) {
	if m == nil {
		return
	}
	m.admissionRejections.WithLabelValues(bucket).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registered collectors.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
