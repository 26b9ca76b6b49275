// Package metrics exposes gateway counters and latencies in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "admanager_gateway"

// Metrics owns a registry and the gateway's collectors. Each instance has its
// own registry so tests do not share state.
type Metrics struct {
	registry *prometheus.Registry

	tokenRefreshes   *prometheus.CounterVec
	upstreamAttempts *prometheus.CounterVec
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	httpResponses    *prometheus.CounterVec
	rateLimited      prometheus.Counter
}

// New creates and registers the gateway collectors along with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Client-credentials exchanges with the identity provider by outcome.",
		}, []string{"outcome"}),
		upstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_attempts_total",
			Help:      "SOAP call attempts by service, method, and outcome.",
		}, []string{"service", "method", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Dispatched request envelopes by route and status.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time to dispatch a request envelope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		httpResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTP responses by method and status, including those rejected before dispatch.",
		}, []string{"method", "status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	m.registry.MustRegister(
		m.tokenRefreshes,
		m.upstreamAttempts,
		m.requests,
		m.requestDuration,
		m.httpResponses,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TokenRefresh records one exchange outcome.
func (m *Metrics) TokenRefresh(outcome string) {
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// UpstreamAttempt records one SOAP attempt.
func (m *Metrics) UpstreamAttempt(service, method, outcome string) {
	m.upstreamAttempts.WithLabelValues(service, method, outcome).Inc()
}

// Dispatch records one dispatched envelope.
func (m *Metrics) Dispatch(route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// HTTPResponse records one HTTP response.
func (m *Metrics) HTTPResponse(method string, status int) {
	m.httpResponses.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// RateLimited records one rejected request.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}
