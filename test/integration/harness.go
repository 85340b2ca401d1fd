// Package integration provides a reusable test harness for end-to-end
// integration testing of the formengine server. It starts a full HTTP server
// with a mock collaborator backend, in-memory drafts and session tokens.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pitabwire/formengine/internal/condition"
	"github.com/pitabwire/formengine/internal/config"
	"github.com/pitabwire/formengine/internal/definition"
	"github.com/pitabwire/formengine/internal/invoker"
	"github.com/pitabwire/formengine/internal/observability"
	"github.com/pitabwire/formengine/internal/persistence"
	"github.com/pitabwire/formengine/internal/session"
	"github.com/pitabwire/formengine/internal/store"
	"github.com/pitabwire/formengine/internal/transport"
	"github.com/pitabwire/formengine/model"
)

// TestHarness encapsulates a fully wired formengine instance with a mock
// backend for integration testing.
type TestHarness struct {
	t       *testing.T
	server  *httptest.Server
	backend *MockBackend
	forger  *tokenForger

	// Internal components exposed for advanced test scenarios.
	Registry *definition.Registry
	Client   *invoker.Client
	Cache    *store.CachedIndex
	Drafts   *persistence.MemoryDraftStore
	Sessions *session.Manager

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitions    []string
	handlerTimeout time.Duration
	backendTimeout time.Duration
	breaker        config.CircuitBreakerConfig
	retry          config.RetryConfig
}

// WithDefinitions replaces the default definition files with the given
// YAML documents.
func WithDefinitions(docs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitions = docs
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithBackendTimeout sets the backend client timeout.
func WithBackendTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.backendTimeout = d
	}
}

// WithCircuitBreaker overrides the backend circuit breaker settings.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.breaker = cb
	}
}

// WithRetry overrides the backend retry settings.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.retry = r
	}
}

// NewTestHarness creates and starts a full formengine test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		definitions:    []string{contactDefinition, checkoutDefinition},
		handlerTimeout: 10 * time.Second,
		backendTimeout: 5 * time.Second,
		breaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		},
		retry: config.RetryConfig{MaxAttempts: 1},
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t, forger: newTokenForger()}

	// Step 1: Start the mock backend.
	h.backend = newMockBackend(t)

	// Step 2: Load and validate definitions.
	loader := definition.NewLoader()
	files := make([]model.DefinitionFile, 0, len(hc.definitions))
	for i, doc := range hc.definitions {
		f, err := loader.Parse("inline-"+string(rune('a'+i))+".yaml", []byte(doc))
		if err != nil {
			t.Fatalf("parse definitions: %v", err)
		}
		files = append(files, f)
	}
	if rep := definition.NewValidator().Validate(files); !rep.OK() {
		t.Fatalf("invalid definitions: %v", rep.Errors)
	}
	h.Registry = definition.NewRegistry(files)

	// Step 3: Build config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Auth = config.AuthConfig{Issuer: testIssuer, Secret: testSecret, TokenTTL: time.Hour}
	h.cfg.Submissions.Driver = "remote"
	h.cfg.Backend = config.BackendConfig{
		BaseURL:        h.backend.URL(),
		Timeout:        hc.backendTimeout,
		CircuitBreaker: hc.breaker,
		Retry:          hc.retry,
	}

	// Step 4: Build the backend client and the evaluator over a cached index.
	h.Client = invoker.NewClient(h.cfg.Backend)
	h.Cache = store.NewCachedIndex(h.Client, time.Minute)
	evaluator := condition.NewEvaluator(condition.WithSubmissionIndex(h.Cache))

	// Step 5: Build the session manager.
	h.Drafts = persistence.NewMemoryDraftStore()
	h.Sessions = session.NewManager(session.Collaborators{
		Validator: h.Client,
		Payments:  h.Client,
		Submitter: store.InvalidatingSubmitter{Submitter: h.Client, Cache: h.Cache},
		Fetcher:   h.Client,
		Partial:   h.Client,
		Drafts:    h.Drafts,
	}, session.Config{AutosaveInterval: 10 * time.Millisecond}, evaluator, nil, nil)
	t.Cleanup(h.Sessions.CloseAll)

	// Step 6: Build router with full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:        h.cfg,
		Tokens:        transport.NewSessionTokens(h.cfg.Auth),
		Forms:         h.Registry,
		Sessions:      h.Sessions,
		Evaluator:     evaluator,
		HealthHandler: observability.HandleHealth(),
		ReadyHandler: observability.HandleReady(observability.ReadinessChecks{
			FormCount: h.Registry.Len,
			Backend:   h.Client,
		}),
		Middleware: []func(http.Handler) http.Handler{observability.TracingMiddleware},
	})

	// Step 7: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// MockBackend returns the mock collaborator backend.
func (h *TestHarness) MockBackend() *MockBackend {
	return h.backend
}

// GenerateToken forges a token signed with the server secret.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.forger.GenerateToken(claims)
}

// GenerateExpiredToken forges a token that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.forger.GenerateExpiredToken(claims)
}

// --- Session helpers ---

// SessionHandle is a started session and the token bound to it.
type SessionHandle struct {
	ID    string
	Token string
}

// Path returns the session resource path with suffix appended.
func (s SessionHandle) Path(suffix string) string {
	return "/sessions/" + s.ID + suffix
}

// StartSession creates a session for formID and returns its handle.
func (h *TestHarness) StartSession(t *testing.T, formID string, body any) SessionHandle {
	t.Helper()
	resp := h.POST("/forms/"+formID+"/sessions", body, "")
	var out struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
		Token string `json:"token"`
	}
	h.AssertJSON(t, resp, http.StatusCreated, &out)
	return SessionHandle{ID: out.Session.ID, Token: out.Token}
}

// Answer sets one answer and expects success.
func (h *TestHarness) Answer(t *testing.T, s SessionHandle, fieldID string, value any) {
	t.Helper()
	resp := h.PUT(s.Path("/answers/"+fieldID), map[string]any{"value": value}, s.Token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

// --- HTTP client helpers ---

// GET performs a GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, nil)
}

// PUT performs a PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token, nil)
}

// DELETE performs a DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, token, nil)
}

// Do performs a request with additional headers.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(method, path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorCode checks the status and the error envelope code.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	var out struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &out)
	if out.Error.Code != code {
		t.Errorf("error code = %q, want %q (%s)", out.Error.Code, code, out.Error.Message)
	}
}

// --- Fixtures ---

// contactDefinition is a two page form. Email is required when subscribe is
// checked; the coupon must not have been used before.
const contactDefinition = `
version: "1"
forms:
  - id: contact
    title: Contact us
    auto_save: true
    fields:
      - id: name
        type: text
        required: true
      - id: subscribe
        type: checkbox
      - id: email
        type: email
        logic:
          conditions:
            operator: and
            children:
              - field: subscribe
                operator: is_checked
          actions: [require-answer]
      - id: pb1
        type: nf-page-break
      - id: coupon
        type: text
      - id: coupon_used
        type: nf-text
        hidden: true
        logic:
          conditions:
            operator: and
            children:
              - field: coupon
                operator: exists_in_submissions
          actions: [show-block]
      - id: message
        type: text
`

// checkoutDefinition carries a required payment on its first page.
const checkoutDefinition = `
version: "1"
forms:
  - id: checkout
    title: Checkout
    redirect_url: https://example.test/thanks
    fields:
      - id: buyer
        type: text
        required: true
      - id: pay
        type: payment
        required: true
        amount: 25
        currency: usd
        description: Registration
      - id: pb1
        type: nf-page-break
      - id: notes
        type: text
`
