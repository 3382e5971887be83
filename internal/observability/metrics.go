package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the admin engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Page metrics
	ListLoadsTotal      *prometheus.CounterVec
	ListLoadDuration    *prometheus.HistogramVec
	FormSubmitsTotal    *prometheus.CounterVec
	FormSubmitDuration  *prometheus.HistogramVec
	BulkDeleteItemsTotal *prometheus.CounterVec

	// Backend metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState *prometheus.GaugeVec
	BackendRetriesTotal        *prometheus.CounterVec

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	OptionsCacheHitsTotal      *prometheus.CounterVec
	OptionsCacheMissesTotal    *prometheus.CounterVec

	// System metrics
	DefinitionReloadTotal    *prometheus.CounterVec
	DefinitionsLoaded        prometheus.Gauge
	SchemasIndexed           *prometheus.GaugeVec
	SearchDuration           prometheus.Histogram
	SearchEntitiesResponded  prometheus.Histogram
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qdadm_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qdadm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qdadm_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qdadm_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Pages
		ListLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qdadm_list_loads_total",
			Help: "Total number of list page loads.",
		}, []string{"entity", "status"}),
		ListLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qdadm_list_load_duration_seconds",
			Help:    "List page load duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"entity"}),
		FormSubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qdadm_form_submits_total",
			Help: "Total number of form submissions.",
		}, []string{"entity", "mode", "status"}),
		FormSubmitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qdadm_form_submit_duration_seconds",
			Help:    "Form submission duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"entity", "mode"}),
		BulkDeleteItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qdadm_bulk_delete_items_total",
			Help: "Total number of records processed by bulk delete.",
		}, []string{"entity", "outcome"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qdadm_backend_requests_total",
			Help: "Total number of backend service requests.",
		}, []string{"service_id", "method", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qdadm_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"service_id"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qdadm_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service_id"}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qdadm_backend_retries_total",
			Help: "Total number of backend request retries.",
		}, []string{"service_id"}),

		// Cache
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qdadm_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qdadm_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
		OptionsCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qdadm_options_cache_hits_total",
			Help: "Total filter option cache hits.",
		}, []string{"entity"}),
		OptionsCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qdadm_options_cache_misses_total",
			Help: "Total filter option cache misses.",
		}, []string{"entity"}),

		// System
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qdadm_definition_reload_total",
			Help: "Total definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qdadm_definitions_loaded",
			Help: "Number of loaded entity definitions.",
		}),
		SchemasIndexed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qdadm_schemas_indexed",
			Help: "Number of indexed OpenAPI schemas.",
		}, []string{"service_id"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qdadm_search_duration_seconds",
			Help:    "Global search execution duration in seconds.",
			Buckets: backendDurationBuckets,
		}),
		SearchEntitiesResponded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qdadm_search_entities_responded",
			Help:    "Number of entities that answered a global search.",
			Buckets: []float64{1, 2, 3, 5, 10},
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Pages
		m.ListLoadsTotal,
		m.ListLoadDuration,
		m.FormSubmitsTotal,
		m.FormSubmitDuration,
		m.BulkDeleteItemsTotal,
		// Backend
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		// Cache
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.OptionsCacheHitsTotal,
		m.OptionsCacheMissesTotal,
		// System
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
		m.SchemasIndexed,
		m.SearchDuration,
		m.SearchEntitiesResponded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordListLoad records a list page load.
func (m *Metrics) RecordListLoad(entity, status string, duration time.Duration) {
	m.ListLoadsTotal.WithLabelValues(entity, status).Inc()
	m.ListLoadDuration.WithLabelValues(entity).Observe(duration.Seconds())
}

// RecordFormSubmit records a form submission.
func (m *Metrics) RecordFormSubmit(entity, mode, status string, duration time.Duration) {
	m.FormSubmitsTotal.WithLabelValues(entity, mode, status).Inc()
	m.FormSubmitDuration.WithLabelValues(entity, mode).Observe(duration.Seconds())
}

// RecordBulkDelete records the outcome counts of one bulk delete run.
func (m *Metrics) RecordBulkDelete(entity string, deleted, failed int) {
	m.BulkDeleteItemsTotal.WithLabelValues(entity, "deleted").Add(float64(deleted))
	m.BulkDeleteItemsTotal.WithLabelValues(entity, "failed").Add(float64(failed))
}

// RecordBackendRequest records a backend service request.
func (m *Metrics) RecordBackendRequest(serviceID, method string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(serviceID, method, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(serviceID).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state for a
// service. State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(serviceID string, state float64) {
	m.BackendCircuitBreakerState.WithLabelValues(serviceID).Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(serviceID string) {
	m.BackendRetriesTotal.WithLabelValues(serviceID).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordOptionsCacheHit records a filter option cache hit.
func (m *Metrics) RecordOptionsCacheHit(entity string) {
	m.OptionsCacheHitsTotal.WithLabelValues(entity).Inc()
}

// RecordOptionsCacheMiss records a filter option cache miss.
func (m *Metrics) RecordOptionsCacheMiss(entity string) {
	m.OptionsCacheMissesTotal.WithLabelValues(entity).Inc()
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// SetSchemasIndexed sets the number of indexed schemas for a service.
func (m *Metrics) SetSchemasIndexed(serviceID string, count float64) {
	m.SchemasIndexed.WithLabelValues(serviceID).Set(count)
}

// RecordSearch records a global search execution.
func (m *Metrics) RecordSearch(duration time.Duration, entitiesResponded int) {
	m.SearchDuration.Observe(duration.Seconds())
	m.SearchEntitiesResponded.Observe(float64(entitiesResponded))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics
// using chi's route pattern (not the actual URL path) to avoid label
// cardinality explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
