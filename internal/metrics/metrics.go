// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Refresh cycles validate up to 100 endpoints with a 10s probe timeout,
// so their latency lives on a much coarser scale than requests.
var refreshBuckets = []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec

	PoolSize         prometheus.Gauge
	RefreshTotal     *prometheus.CounterVec
	RefreshDuration  prometheus.Histogram
	ValidationsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rotating_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rotating_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rotating_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rotating_proxy_forward_attempts_total",
			Help: "Total forward attempts by route and outcome.",
		}, []string{"route", "outcome"}),

		AttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rotating_proxy_forward_attempt_duration_seconds",
			Help:    "Forward attempt latency in seconds by route.",
			Buckets: defaultBuckets,
		}, []string{"route"}),

		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rotating_proxy_pool_size",
			Help: "Number of endpoints in the current proxy pool.",
		}),

		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rotating_proxy_pool_refreshes_total",
			Help: "Total pool refresh cycles by outcome.",
		}, []string{"outcome"}),

		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rotating_proxy_pool_refresh_duration_seconds",
			Help:    "Pool refresh cycle duration in seconds.",
			Buckets: refreshBuckets,
		}),

		ValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rotating_proxy_validations_total",
			Help: "Total endpoint validation probes by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.AttemptsTotal,
		m.AttemptDuration,
		m.PoolSize,
		m.RefreshTotal,
		m.RefreshDuration,
		m.ValidationsTotal,
	)

	return m
}

// Route labels for forward attempts (bounded cardinality: never the
// endpoint address itself).
const (
	RouteProxy  = "proxy"
	RouteDirect = "direct"
)

// Refresh outcome labels.
const (
	RefreshReplaced = "replaced"
	RefreshFallback = "fallback"
	RefreshKept     = "kept"
)

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

// knownPrefixes lists the non-relay path label values. Every other path is the
// relay catch-all, whose embedded target URL must never become a label.
var knownPrefixes = []string{"/healthz", "/relay/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "relay"
}
