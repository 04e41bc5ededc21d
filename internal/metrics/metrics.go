package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	LimiterRejected *prometheus.CounterVec
	UpstreamCalls   *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	AuditDropped    prometheus.Counter
	AuditWritten    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tyreapi_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tyreapi_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),
		LimiterRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tyreapi_limiter_rejections_total",
				Help: "Requests rejected by a cooldown or rate window, by rule",
			},
			[]string{"rule"},
		),
		UpstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tyreapi_upstream_calls_total",
				Help: "Outbound upstream calls by upstream and outcome",
			},
			[]string{"upstream", "outcome"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tyreapi_upstream_duration_seconds",
				Help:    "Outbound upstream call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"upstream"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tyreapi_lookup_cache_total",
				Help: "Vehicle lookup cache hits and misses",
			},
			[]string{"result"},
		),
		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tyreapi_audit_dropped_total",
				Help: "Audit records dropped because the buffer was full",
			},
		),
		AuditWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tyreapi_audit_written_total",
				Help: "Audit records written by sink and outcome",
			},
			[]string{"sink", "outcome"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.LimiterRejected,
		m.UpstreamCalls,
		m.UpstreamLatency,
		m.CacheLookups,
		m.AuditDropped,
		m.AuditWritten,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
