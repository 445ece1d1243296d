package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopgraph_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopgraph_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopgraph_queries_total",
			Help: "Total number of orchestrated queries",
		},
		[]string{"intent", "confidence", "status"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopgraph_stage_duration_seconds",
			Help:    "Orchestration stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	breakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shopgraph_retrieval_breaker_state",
			Help: "Retrieval circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	documentsIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopgraph_documents_indexed_total",
			Help: "Total number of documents indexed",
		},
	)

	sessionsReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopgraph_sessions_reaped_total",
			Help: "Total number of expired sessions reaped",
		},
	)
)

var registerOnce sync.Once

// RegisterMetrics registers all collectors with the default registry.
// Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			queriesTotal,
			stageDuration,
			breakerState,
			documentsIndexed,
			sessionsReaped,
		)
	})
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one handled HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordQuery records one orchestrated query outcome.
func RecordQuery(intent, confidence, status string) {
	queriesTotal.WithLabelValues(intent, confidence, status).Inc()
}

// RecordStage records the duration of one orchestration stage.
func RecordStage(stage string, duration time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// SetBreakerState publishes the retrieval breaker state.
func SetBreakerState(state int) {
	breakerState.Set(float64(state))
}

// AddDocumentsIndexed counts newly indexed documents.
func AddDocumentsIndexed(n int) {
	documentsIndexed.Add(float64(n))
}

// AddSessionsReaped counts reaped sessions.
func AddSessionsReaped(n int) {
	sessionsReaped.Add(float64(n))
}
