package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/formengine/internal/condition"
	"github.com/pitabwire/formengine/internal/config"
	"github.com/pitabwire/formengine/internal/definition"
	"github.com/pitabwire/formengine/internal/session"
	"github.com/pitabwire/formengine/internal/store"
	"github.com/pitabwire/formengine/internal/validation"
	"github.com/pitabwire/formengine/model"
)

// --- Test helpers ---

// surveyForm has two pages. The "reason" field is hidden unless "name" is
// "other".
func surveyForm() model.FormDefinition {
	return model.FormDefinition{
		ID:       "survey",
		Title:    "Survey",
		Checksum: "c1",
		Fields: []model.FieldDefinition{
			{ID: "name", Type: model.FieldText, Required: model.Bool(true)},
			{
				ID:     "reason",
				Type:   model.FieldText,
				Hidden: model.Bool(true),
				Logic: &model.LogicDefinition{
					Conditions: &model.ConditionNode{
						Operator: model.GroupAnd,
						Children: []model.ConditionNode{
							{Operator: "equals", Field: "name", FieldType: model.FieldText, Value: "other"},
						},
					},
					Actions: []string{model.ActionShowBlock},
				},
			},
			{ID: "break1", Type: model.FieldPageBreak},
			{ID: "email", Type: model.FieldEmail},
		},
	}
}

type validationCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (v *validationCounter) RecordValidationFailures(formID string, count int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[formID] += count
}

type testServer struct {
	router   http.Handler
	sessions *session.Manager
	store    *store.MemorySubmissionStore
	failures *validationCounter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Defaults()
	cfg.Auth = testAuthCfg()
	cfg.Server.HandlerTimeout = 5 * time.Second

	evaluator := condition.NewEvaluator()
	subs := store.NewMemorySubmissionStore()
	sessions := session.NewManager(session.Collaborators{
		Validator: validation.New(evaluator, nil),
		Submitter: subs,
		Partial:   subs,
		Fetcher:   subs,
	}, session.Config{}, evaluator, nil, nil)
	t.Cleanup(sessions.CloseAll)

	failures := &validationCounter{counts: map[string]int{}}
	registry := definition.NewRegistry([]model.DefinitionFile{
		{Version: "1", Forms: []model.FormDefinition{surveyForm()}},
	})

	return &testServer{
		router: NewRouter(Dependencies{
			Config:    cfg,
			Tokens:    NewSessionTokens(cfg.Auth),
			Forms:     registry,
			Sessions:  sessions,
			Evaluator: evaluator,
			Metrics:   failures,
		}),
		sessions: sessions,
		store:    subs,
		failures: failures,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (ts *testServer) create(t *testing.T, body any) (id, token string) {
	t.Helper()
	w, out := ts.do(t, "POST", "/forms/survey/sessions", "", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sess := out["session"].(map[string]any)
	return sess["id"].(string), out["token"].(string)
}

func errorCode(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func pageIndex(view map[string]any) int {
	state := view["state"].(map[string]any)
	return int(state["page_index"].(float64))
}

func fieldIDs(view map[string]any) []string {
	var ids []string
	for _, f := range view["fields"].([]any) {
		ids = append(ids, f.(map[string]any)["id"].(string))
	}
	return ids
}

// --- Form handlers ---

func TestListForms(t *testing.T) {
	ts := newTestServer(t)
	w, out := ts.do(t, "GET", "/forms", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	forms := out["forms"].([]any)
	require.Len(t, forms, 1)
	assert.Equal(t, "survey", forms[0].(map[string]any)["id"])
}

func TestGetForm(t *testing.T) {
	ts := newTestServer(t)
	w, out := ts.do(t, "GET", "/forms/survey", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Survey", out["title"])

	w, out = ts.do(t, "GET", "/forms/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, model.ErrNotFound, errorCode(out))
}

func TestEvaluateForm(t *testing.T) {
	ts := newTestServer(t)

	hiddenOf := func(out map[string]any, id string) bool {
		for _, f := range out["fields"].([]any) {
			fs := f.(map[string]any)
			if fs["id"] == id {
				return fs["hidden"].(bool)
			}
		}
		t.Fatalf("field %s missing", id)
		return false
	}

	w, out := ts.do(t, "POST", "/forms/survey/evaluate", "", map[string]any{"answers": map[string]any{"name": "Ann"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, hiddenOf(out, "reason"))
	assert.Len(t, out["pages"], 2)

	_, out = ts.do(t, "POST", "/forms/survey/evaluate", "", map[string]any{"answers": map[string]any{"name": "other"}})
	assert.False(t, hiddenOf(out, "reason"))

	_, out = ts.do(t, "POST", "/forms/survey/evaluate", "", map[string]any{"mode": "prefill"})
	assert.False(t, hiddenOf(out, "reason"))

	w, out = ts.do(t, "POST", "/forms/survey/evaluate", "", map[string]any{"mode": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrBadRequest, errorCode(out))
}

// --- Session handlers ---

func TestSession_fullPass(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.create(t, nil)
	base := "/sessions/" + id

	w, view := ts.do(t, "GET", base, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "default", view["mode"])
	assert.Equal(t, float64(2), view["page_count"])
	assert.Equal(t, []string{"name", "break1"}, fieldIDs(view))

	// The required name blocks the first page.
	w, out := ts.do(t, "POST", base+"/next", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, model.ErrValidationError, errorCode(out))
	assert.Equal(t, 1, ts.failures.counts["survey"])

	w, view = ts.do(t, "PUT", base+"/answers/name", token, map[string]any{"value": "other"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, view["errors"])
	assert.Equal(t, []string{"name", "reason", "break1"}, fieldIDs(view))

	w, view = ts.do(t, "POST", base+"/next", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, pageIndex(view))

	w, view = ts.do(t, "POST", base+"/previous", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, pageIndex(view))

	w, out = ts.do(t, "POST", base+"/previous", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, model.ErrConflict, errorCode(out))

	w, out = ts.do(t, "POST", base+"/submit", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := out["result"].(map[string]any)
	assert.NotEmpty(t, result["submission_id"])
	assert.Equal(t, 1, ts.store.Len())

	w, out = ts.do(t, "POST", base+"/submit", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, model.ErrAlreadySubmitted, errorCode(out))

	w, view = ts.do(t, "POST", base+"/restart", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, view["state"].(map[string]any)["submitted"])
	assert.Empty(t, view["answers"])
}

func TestSession_createWithPrefill(t *testing.T) {
	ts := newTestServer(t)
	w, out := ts.do(t, "POST", "/forms/survey/sessions?name=Ann", "", map[string]any{"mode": "preview"})
	require.Equal(t, http.StatusCreated, w.Code)
	sess := out["session"].(map[string]any)
	assert.Equal(t, "preview", sess["mode"])
	assert.Equal(t, "Ann", sess["answers"].(map[string]any)["name"])
	assert.NotEmpty(t, out["expires_at"])
}

func TestSession_createErrors(t *testing.T) {
	ts := newTestServer(t)

	w, out := ts.do(t, "POST", "/forms/missing/sessions", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, model.ErrNotFound, errorCode(out))

	w, out = ts.do(t, "POST", "/forms/survey/sessions", "", map[string]any{"mode": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrBadRequest, errorCode(out))
	assert.Zero(t, ts.sessions.Len())
}

func TestSession_tokenBinding(t *testing.T) {
	ts := newTestServer(t)
	id1, token1 := ts.create(t, nil)
	id2, _ := ts.create(t, nil)

	w, _ := ts.do(t, "GET", "/sessions/"+id1, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, out := ts.do(t, "GET", "/sessions/"+id2, token1, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, model.ErrUnauthorized, errorCode(out))
}

func TestSession_deleteAndNotFound(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.create(t, nil)

	w, _ := ts.do(t, "DELETE", "/sessions/"+id, token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, out := ts.do(t, "GET", "/sessions/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, model.ErrSessionNotFound, errorCode(out))
}

func TestSession_setAnswerErrors(t *testing.T) {
	ts := newTestServer(t)
	id, token := ts.create(t, nil)

	w, out := ts.do(t, "PUT", "/sessions/"+id+"/answers/break1", token, map[string]any{"value": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, model.ErrBadRequest, errorCode(out))

	w, _ = ts.do(t, "PUT", "/sessions/"+id+"/answers/unknown", token, map[string]any{"value": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
