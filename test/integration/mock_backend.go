package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Collaborator operations served by the mock, named as the backend client
// reports them.
const (
	OpValidate        = "validate"
	OpSubmit          = "submit"
	OpSavePartial     = "save_partial"
	OpFetchSubmission = "fetch_submission"
	OpExists          = "exists"
	OpCreateIntent    = "create_payment_intent"
	OpConfirmPayment  = "confirm_payment"
	OpHealth          = "health"
)

type backendRoute struct {
	op, method, pattern string
	fallback            any
}

var backendRoutes = []backendRoute{
	{OpValidate, http.MethodPost, "/forms/{formId}/validate", map[string]any{"errors": map[string]any{}}},
	{OpSubmit, http.MethodPost, "/forms/{formId}/submissions", map[string]any{"submission_id": "sub-1"}},
	{OpSavePartial, http.MethodPut, "/forms/{formId}/partials/{hash}", nil},
	{OpFetchSubmission, http.MethodGet, "/forms/{formId}/submissions/{id}", map[string]any{"answers": map[string]any{}}},
	{OpExists, http.MethodGet, "/forms/{formId}/fields/{fieldId}/exists", map[string]any{"exists": false}},
	{OpCreateIntent, http.MethodPost, "/payments/intents", map[string]any{"client_secret": "secret-1"}},
	{OpConfirmPayment, http.MethodPost, "/payments/confirm", map[string]any{"success": true, "reference_id": "pi_test_1"}},
	{OpHealth, http.MethodGet, "/healthz", nil},
}

// RecordedRequest is one call the mock received.
type RecordedRequest struct {
	Path    string
	Query   url.Values
	Headers http.Header
	Body    map[string]any
}

type scriptedReply struct {
	status int
	body   any
	delay  time.Duration
}

// MockBackend plays the collaborator backend. Each operation answers from a
// script of replies, repeating the last one, and falls back to a canned
// success body when nothing is scripted.
type MockBackend struct {
	server *httptest.Server

	mu       sync.Mutex
	scripts  map[string][]scriptedReply
	received map[string][]RecordedRequest
}

func newMockBackend(t *testing.T) *MockBackend {
	t.Helper()
	mb := &MockBackend{
		scripts:  map[string][]scriptedReply{},
		received: map[string][]RecordedRequest{},
	}
	r := chi.NewRouter()
	for _, rt := range backendRoutes {
		r.Method(rt.method, rt.pattern, mb.operation(rt))
	}
	mb.server = httptest.NewServer(r)
	t.Cleanup(mb.server.Close)
	return mb
}

// URL is the backend base URL.
func (mb *MockBackend) URL() string { return mb.server.URL }

// OperationMock scripts the replies of one operation.
type OperationMock struct {
	mb *MockBackend
	op string
}

// OnOperation starts scripting op.
func (mb *MockBackend) OnOperation(op string) *OperationMock {
	return &OperationMock{mb: mb, op: op}
}

// RespondWith appends a reply to the script.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	return om.push(scriptedReply{status: status, body: body})
}

// RespondWithError appends an error envelope reply.
func (om *OperationMock) RespondWithError(status int, code, message string) *OperationMock {
	return om.RespondWith(status, map[string]any{"error": map[string]any{"code": code, "message": message}})
}

// RespondWithDelay appends a reply sent after delay.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	return om.push(scriptedReply{status: status, body: body, delay: delay})
}

func (om *OperationMock) push(r scriptedReply) *OperationMock {
	om.mb.mu.Lock()
	om.mb.scripts[om.op] = append(om.mb.scripts[om.op], r)
	om.mb.mu.Unlock()
	return om
}

// next pops the head of the script, keeping the last reply in place.
func (mb *MockBackend) next(rt backendRoute) scriptedReply {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	script := mb.scripts[rt.op]
	switch len(script) {
	case 0:
		return scriptedReply{status: http.StatusOK, body: rt.fallback}
	case 1:
		return script[0]
	}
	mb.scripts[rt.op] = script[1:]
	return script[0]
}

func (mb *MockBackend) operation(rt backendRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := RecordedRequest{Path: r.URL.Path, Query: r.URL.Query(), Headers: r.Header.Clone()}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
		mb.mu.Lock()
		mb.received[rt.op] = append(mb.received[rt.op], rec)
		mb.mu.Unlock()

		reply := mb.next(rt)
		if reply.delay > 0 {
			select {
			case <-time.After(reply.delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(reply.status)
		if reply.body != nil {
			_ = json.NewEncoder(w).Encode(reply.body)
		}
	}
}

// AssertCalled fails t unless op was called want times.
func (mb *MockBackend) AssertCalled(t *testing.T, op string, want int) {
	t.Helper()
	mb.mu.Lock()
	got := len(mb.received[op])
	mb.mu.Unlock()
	if got != want {
		t.Errorf("backend %s called %d times, want %d", op, got, want)
	}
}

// AssertNotCalled fails t if op was called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, op string) {
	t.Helper()
	mb.AssertCalled(t, op, 0)
}

// LastRequest returns the latest call to op, or nil.
func (mb *MockBackend) LastRequest(op string) *RecordedRequest {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	reqs := mb.received[op]
	if len(reqs) == 0 {
		return nil
	}
	last := reqs[len(reqs)-1]
	return &last
}

// ValidationFixture is a VALIDATION_ERROR envelope with one detail per field.
func ValidationFixture(fieldErrors map[string]string) map[string]any {
	details := make([]map[string]any, 0, len(fieldErrors))
	for field, msg := range fieldErrors {
		details = append(details, map[string]any{"field": field, "code": "invalid", "message": msg})
	}
	return map[string]any{"error": map[string]any{
		"code":    "VALIDATION_ERROR",
		"message": fmt.Sprintf("%d fields are invalid", len(fieldErrors)),
		"details": details,
	}}
}
