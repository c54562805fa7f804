// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency. LLM calls routinely run for
// tens of seconds, so the upper end reaches further than a typical API.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// Stream outcome label values.
const (
	StreamOK    = "ok"
	StreamError = "error"
)

// Record write result label values.
const (
	WriteOK    = "ok"
	WriteError = "error"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	RouteDecodeFailures *prometheus.CounterVec
	StreamsTotal        *prometheus.CounterVec
	StreamEvents        prometheus.Counter
	StreamDroppedLines  prometheus.Counter
	RecordWrites        *prometheus.CounterVec
	RecordsPruned       prometheus.Counter
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tap_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_tap_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds, including streamed bodies.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llm_tap_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_tap_upstream_request_duration_seconds",
			Help:    "Time until upstream response headers arrive, in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tap_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		RouteDecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tap_route_decode_failures_total",
			Help: "Control blocks, or control-block fields, ignored while routing.",
		}, []string{"reason"}),

		StreamsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tap_streams_total",
			Help: "Streamed responses by terminal state.",
		}, []string{"outcome"}),

		StreamEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llm_tap_stream_events_total",
			Help: "SSE data events decoded from streamed responses.",
		}),

		StreamDroppedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llm_tap_stream_dropped_lines_total",
			Help: "SSE data lines dropped because they were not valid JSON.",
		}),

		RecordWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tap_record_writes_total",
			Help: "Interaction record writes by sink and result.",
		}, []string{"sink", "result"}),

		RecordsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llm_tap_records_pruned_total",
			Help: "Record files removed by retention.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RouteDecodeFailures,
		m.StreamsTotal,
		m.StreamEvents,
		m.StreamDroppedLines,
		m.RecordWrites,
		m.RecordsPruned,
	)

	return m
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

// knownPrefixes lists the locally served path label values. Everything else
// is forwarded upstream and labelled "proxy".
var knownPrefixes = []string{"/health", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "proxy"
}
