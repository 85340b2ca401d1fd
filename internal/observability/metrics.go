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

// Metrics holds all Prometheus metric instruments for the form engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Engine metrics
	ConditionEvaluationsTotal *prometheus.CounterVec
	SessionTransitionsTotal   *prometheus.CounterVec
	ActiveSessions            prometheus.Gauge
	AutosavesTotal            *prometheus.CounterVec
	ValidationFailuresTotal   *prometheus.CounterVec

	// Backend invocation metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        *prometheus.CounterVec

	// Cache metrics
	ExistsCacheHitsTotal   prometheus.Counter
	ExistsCacheMissesTotal prometheus.Counter

	// System metrics
	DefinitionReloadTotal *prometheus.CounterVec
	DefinitionsLoaded     prometheus.Gauge
	DefinitionRuleErrors  prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formengine_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formengine_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formengine_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formengine_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Engine
		ConditionEvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formengine_condition_evaluations_total",
			Help: "Total number of condition leaf evaluations.",
		}, []string{"family", "result"}),
		SessionTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formengine_session_transitions_total",
			Help: "Total number of session transitions by outcome.",
		}, []string{"transition", "outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formengine_active_sessions",
			Help: "Number of live form sessions.",
		}),
		AutosavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formengine_autosaves_total",
			Help: "Total number of draft writes by outcome.",
		}, []string{"outcome"}),
		ValidationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formengine_validation_failures_total",
			Help: "Total number of field validation failures.",
		}, []string{"form_id"}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formengine_backend_requests_total",
			Help: "Total number of collaborator backend requests.",
		}, []string{"operation", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formengine_backend_request_duration_seconds",
			Help:    "Collaborator backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formengine_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formengine_backend_retries_total",
			Help: "Total number of backend request retries.",
		}, []string{"operation"}),

		// Cache
		ExistsCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formengine_exists_cache_hits_total",
			Help: "Total submission existence cache hits.",
		}),
		ExistsCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formengine_exists_cache_misses_total",
			Help: "Total submission existence cache misses.",
		}),

		// System
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formengine_definition_reload_total",
			Help: "Total form definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formengine_definitions_loaded",
			Help: "Number of loaded form definitions.",
		}),
		DefinitionRuleErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formengine_definition_rule_errors",
			Help: "Number of malformed logic rules in the loaded definitions.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Engine
		m.ConditionEvaluationsTotal,
		m.SessionTransitionsTotal,
		m.ActiveSessions,
		m.AutosavesTotal,
		m.ValidationFailuresTotal,
		// Backend
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		// Cache
		m.ExistsCacheHitsTotal,
		m.ExistsCacheMissesTotal,
		// System
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
		m.DefinitionRuleErrors,
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

// RecordConditionEvaluation records one leaf evaluation.
func (m *Metrics) RecordConditionEvaluation(family string, result bool) {
	m.ConditionEvaluationsTotal.WithLabelValues(family, strconv.FormatBool(result)).Inc()
}

// RecordSessionTransition records the outcome of a session transition.
func (m *Metrics) RecordSessionTransition(transition, outcome string) {
	m.SessionTransitionsTotal.WithLabelValues(transition, outcome).Inc()
}

// SetActiveSessions sets the number of live sessions.
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordAutosave records a draft write outcome.
func (m *Metrics) RecordAutosave(outcome string) {
	m.AutosavesTotal.WithLabelValues(outcome).Inc()
}

// RecordValidationFailures records field validation failures for a form.
func (m *Metrics) RecordValidationFailures(formID string, count int) {
	m.ValidationFailuresTotal.WithLabelValues(formID).Add(float64(count))
}

// RecordBackendRequest records a collaborator backend request.
func (m *Metrics) RecordBackendRequest(operation string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state.
// State: 0=closed, 1=open, 2=half-open.
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	m.BackendCircuitBreakerState.Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(operation string) {
	m.BackendRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordExistsCacheHit records a submission existence cache hit.
func (m *Metrics) RecordExistsCacheHit() {
	m.ExistsCacheHitsTotal.Inc()
}

// RecordExistsCacheMiss records a submission existence cache miss.
func (m *Metrics) RecordExistsCacheMiss() {
	m.ExistsCacheMissesTotal.Inc()
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions and the number
// of rule errors found in them.
func (m *Metrics) SetDefinitionsLoaded(count, ruleErrors int) {
	m.DefinitionsLoaded.Set(float64(count))
	m.DefinitionRuleErrors.Set(float64(ruleErrors))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

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

// responseRecorder captures the status and body size of a response. The
// tracing and metrics middleware both wrap writers with it.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *responseRecorder) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
