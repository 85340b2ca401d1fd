package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"formengine_http_requests_total",
		"formengine_http_request_duration_seconds",
		"formengine_http_request_size_bytes",
		"formengine_http_response_size_bytes",
		"formengine_condition_evaluations_total",
		"formengine_session_transitions_total",
		"formengine_active_sessions",
		"formengine_autosaves_total",
		"formengine_validation_failures_total",
		"formengine_backend_requests_total",
		"formengine_backend_request_duration_seconds",
		"formengine_backend_circuit_breaker_state",
		"formengine_backend_retries_total",
		"formengine_exists_cache_hits_total",
		"formengine_exists_cache_misses_total",
		"formengine_definition_reload_total",
		"formengine_definitions_loaded",
		"formengine_definition_rule_errors",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordConditionEvaluation("text", true)
	m.RecordSessionTransition("submit", "ok")
	m.SetActiveSessions(3)
	m.RecordAutosave("saved")
	m.RecordValidationFailures("signup", 2)
	m.RecordBackendRequest("submit", 200, time.Millisecond)
	m.SetBackendCircuitBreakerState(0)
	m.RecordBackendRetry("submit")
	m.RecordExistsCacheHit()
	m.RecordExistsCacheMiss()
	m.RecordDefinitionReload("success")
	m.SetDefinitionsLoaded(5, 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/sessions/{sessionId}", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/sessions/{sessionId}", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("POST", "/sessions/{sessionId}/submit", 500, 200*time.Millisecond, 512, 256)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/sessions/{sessionId}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/sessions/{sessionId}/submit", "500"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordConditionEvaluation(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordConditionEvaluation("checkbox", true)
	m.RecordConditionEvaluation("checkbox", false)
	m.RecordConditionEvaluation("checkbox", false)

	if got := testutil.ToFloat64(m.ConditionEvaluationsTotal.WithLabelValues("checkbox", "true")); got != 1 {
		t.Errorf("true evaluations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConditionEvaluationsTotal.WithLabelValues("checkbox", "false")); got != 2 {
		t.Errorf("false evaluations = %v, want 2", got)
	}
}

func TestRecordSessionTransition(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSessionTransition("next_page", "ok")
	m.RecordSessionTransition("next_page", "invalid")
	m.RecordSessionTransition("submit", "rejected")

	if got := testutil.ToFloat64(m.SessionTransitionsTotal.WithLabelValues("next_page", "ok")); got != 1 {
		t.Errorf("next_page ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionTransitionsTotal.WithLabelValues("submit", "rejected")); got != 1 {
		t.Errorf("submit rejected = %v, want 1", got)
	}
}

func TestSetActiveSessions(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetActiveSessions(7)
	m.SetActiveSessions(4)
	if got := testutil.ToFloat64(m.ActiveSessions); got != 4 {
		t.Errorf("active sessions = %v, want 4", got)
	}
}

func TestRecordAutosave(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordAutosave("saved")
	m.RecordAutosave("saved")
	m.RecordAutosave("error")

	if got := testutil.ToFloat64(m.AutosavesTotal.WithLabelValues("saved")); got != 2 {
		t.Errorf("saved = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AutosavesTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
}

func TestRecordValidationFailures(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordValidationFailures("signup", 2)
	m.RecordValidationFailures("signup", 1)
	if got := testutil.ToFloat64(m.ValidationFailuresTotal.WithLabelValues("signup")); got != 3 {
		t.Errorf("validation failures = %v, want 3", got)
	}
}

func TestRecordBackendRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordBackendRequest("fetch_submission", 200, 30*time.Millisecond)
	if got := testutil.ToFloat64(m.BackendRequestsTotal.WithLabelValues("fetch_submission", "200")); got != 1 {
		t.Errorf("backend requests = %v, want 1", got)
	}
	if testutil.CollectAndCount(m.BackendRequestDuration) == 0 {
		t.Error("expected backend duration histogram to have observations")
	}
}

func TestSetBackendCircuitBreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetBackendCircuitBreakerState(1)
	if got := testutil.ToFloat64(m.BackendCircuitBreakerState); got != 1 {
		t.Errorf("breaker state = %v, want 1 (open)", got)
	}
	m.SetBackendCircuitBreakerState(0)
	if got := testutil.ToFloat64(m.BackendCircuitBreakerState); got != 0 {
		t.Errorf("breaker state = %v, want 0 (closed)", got)
	}
}

func TestRecordBackendRetry(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordBackendRetry("submit")
	m.RecordBackendRetry("submit")
	if got := testutil.ToFloat64(m.BackendRetriesTotal.WithLabelValues("submit")); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
}

func TestRecordExistsCache(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordExistsCacheHit()
	m.RecordExistsCacheHit()
	m.RecordExistsCacheMiss()

	if got := testutil.ToFloat64(m.ExistsCacheHitsTotal); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ExistsCacheMissesTotal); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
}

func TestRecordDefinitionReload(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordDefinitionReload("success")
	m.RecordDefinitionReload("failure")
	m.SetDefinitionsLoaded(12, 2)

	if got := testutil.ToFloat64(m.DefinitionReloadTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("reload success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DefinitionsLoaded); got != 12 {
		t.Errorf("definitions loaded = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.DefinitionRuleErrors); got != 2 {
		t.Errorf("rule errors = %v, want 2", got)
	}
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Build a chi router so route patterns are captured.
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/sessions/{sessionId}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Verify metrics were recorded with the route pattern, not the actual path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/sessions/{sessionId}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Response size should have been recorded.
	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/sessions/{sessionId}/submit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/sessions/abc/submit", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/sessions/{sessionId}/submit", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Use middleware directly without chi router.
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Without chi, should fall back to raw path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	// Verify bucket configurations are correct.
	if len(httpDurationBuckets) != 11 {
		t.Errorf("httpDurationBuckets length = %d, want 11", len(httpDurationBuckets))
	}
	if len(backendDurationBuckets) != 9 {
		t.Errorf("backendDurationBuckets length = %d, want 9", len(backendDurationBuckets))
	}
	if len(bodySizeBuckets) != 5 {
		t.Errorf("bodySizeBuckets length = %d, want 5", len(bodySizeBuckets))
	}

	// Verify buckets are sorted ascending.
	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
}
