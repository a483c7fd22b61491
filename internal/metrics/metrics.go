// Package metrics exposes the gateway's prometheus instrumentation.
//
// Trimmed from the teacher's pkg/metrics/metrics.go: the cluster-shaped
// families (nodes, Raft, scheduler, reconciler) have no analog in a
// stateless reverse proxy and are dropped; proxy/admission/health families
// are new, grounded on the same NewCounterVec/NewHistogramVec declaration
// style and promhttp.Handler wiring.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_requests_total",
			Help: "Total number of proxied requests by backend service and outcome status.",
		},
		[]string{"service", "status"},
	)

	ProxyRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_proxy_request_duration_seconds",
			Help:    "Proxied request duration in seconds, from upstream dispatch until the response headers arrive or the attempts end.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	ProxyRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_retries_total",
			Help: "Total number of upstream retry attempts by backend service.",
		},
		[]string{"service"},
	)

	ProxyBackpressureRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_backpressure_rejections_total",
			Help: "Requests fast-failed with 503 because a backend's concurrency cap and queue were both full.",
		},
		[]string{"service"},
	)

	BackendReachable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_backend_reachable",
			Help: "Whether the last health probe of a backend succeeded (1) or failed (0).",
		},
		[]string{"service"},
	)

	BackendProbeLatency = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_backend_probe_latency_ms",
			Help: "Round-trip latency in milliseconds of the last health probe.",
		},
		[]string{"service"},
	)

	AdmissionDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_admission_denied_total",
			Help: "Total number of requests rejected by admission control for a missing or invalid token.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ProxyRequestsTotal,
		ProxyRequestDuration,
		ProxyRetriesTotal,
		ProxyBackpressureRejections,
		BackendReachable,
		BackendProbeLatency,
		AdmissionDeniedTotal,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
