package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	connectionMutations *prometheus.CounterVec
	legacyResolutions   *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP and connection metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cabinmap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the locations API",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cabinmap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the locations API",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	connectionMutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cabinmap",
		Name:      "connection_mutations_total",
		Help:      "Connection index writes by operation, target kind and outcome",
	}, []string{"op", "kind", "outcome"})

	legacyResolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cabinmap",
		Name:      "legacy_connection_resolutions_total",
		Help:      "Legacy bare-id connection entries resolved by kind probing",
	}, []string{"resolved_kind"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		connectionMutations,
		legacyResolutions,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		connectionMutations: connectionMutations,
		legacyResolutions:   legacyResolutions,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncConnectionMutation counts one add/remove/cleanup/migrate write.
// outcome is "written", "noop" or "rejected".
func (m *Metrics) IncConnectionMutation(op, kind, outcome string) {
	if m == nil {
		return
	}
	m.connectionMutations.With(prometheus.Labels{"op": op, "kind": kind, "outcome": outcome}).Inc()
}

// IncLegacyResolution counts a legacy id resolved to resolvedKind, or
// "dropped" when no entity matched.
func (m *Metrics) IncLegacyResolution(resolvedKind string) {
	if m == nil {
		return
	}
	m.legacyResolutions.With(prometheus.Labels{"resolved_kind": resolvedKind}).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
