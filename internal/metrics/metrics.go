// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Outbound attempts, labelled by route ("direct", "proxy", "verify").
	UpstreamDuration *prometheus.HistogramVec
	UpstreamAttempts *prometheus.CounterVec

	// Relay decisions.
	Fallbacks *prometheus.CounterVec
	Outcomes  *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rc_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rc_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rc_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rc_relay_upstream_request_duration_seconds",
			Help:    "Outbound call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"route", "method"}),

		UpstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rc_relay_upstream_attempts_total",
			Help: "Total outbound attempts by route, method and result (status code or \"error\").",
		}, []string{"route", "method", "result"}),

		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rc_relay_fallbacks_total",
			Help: "Relay calls that retried on the proxy-routed sender, by fallback result.",
		}, []string{"result"}),

		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rc_relay_outcomes_total",
			Help: "Relay calls by final outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamAttempts,
		m.Fallbacks,
		m.Outcomes,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/api/Proxy", "/api/proxy", "/login_otp", "/login_verify_otp", "/healthz", "/proxy/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
// Lowercase relay routes share the canonical "/api/Proxy" label; anything else,
// including static dashboard assets, is "other".
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			if prefix == "/api/proxy" {
				return "/api/Proxy"
			}
			return prefix
		}
	}
	return "other"
}
