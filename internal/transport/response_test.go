package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/formengine/model"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"session_id": "s1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"session_id":"s1"}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"envelope", model.NewNotFoundError("page not found"), http.StatusNotFound, model.ErrNotFound},
		{"wrapped envelope", fmt.Errorf("submit: %w", model.NewAlreadySubmittedError()), http.StatusConflict, model.ErrAlreadySubmitted},
		{"plain error hides details", fmt.Errorf("dial tcp: refused"), http.StatusInternalServerError, model.ErrInternalError},
		{"unmapped code", &model.ErrorEnvelope{Code: model.ErrRuleError}, http.StatusInternalServerError, model.ErrRuleError},
		{"payment", &model.ErrorEnvelope{Code: model.ErrPaymentFailed}, http.StatusPaymentRequired, model.ErrPaymentFailed},
		{"captcha", &model.ErrorEnvelope{Code: model.ErrCaptchaFailed}, http.StatusUnprocessableEntity, model.ErrCaptchaFailed},
		{"transition busy", &model.ErrorEnvelope{Code: model.ErrTransitionInProgress}, http.StatusConflict, model.ErrTransitionInProgress},
		{"submitter", &model.ErrorEnvelope{Code: model.ErrSubmissionFailed}, http.StatusBadGateway, model.ErrSubmissionFailed},
		{"backend timeout", &model.ErrorEnvelope{Code: model.ErrBackendTimeout}, http.StatusGatewayTimeout, model.ErrBackendTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)
			assert.Equal(t, tt.status, w.Code)
			env := decodeEnvelope(t, w)
			assert.Equal(t, tt.code, env.Code)
			assert.NotContains(t, env.Message, "dial tcp")
		})
	}
}

func TestNewRouter_unknownRouteIsEnvelope(t *testing.T) {
	w := serve(NewRouter(testDeps()), httptest.NewRequest(http.MethodGet, "/formz", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, model.ErrNotFound, decodeEnvelope(t, w).Code)
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Value any `json:"value"`
	}

	require.NoError(t, decodeJSON(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"value": 3}`)), &v))
	assert.Equal(t, 3.0, v.Value)

	assert.NoError(t, decodeJSON(httptest.NewRequest(http.MethodPut, "/", nil), &v))

	err := decodeJSON(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"value":`)), &v)
	assert.Equal(t, model.ErrBadRequest, model.CodeOf(err))

	big := `{"value":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	err = decodeJSON(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(big)), &v)
	assert.Equal(t, model.ErrBadRequest, model.CodeOf(err))
}
