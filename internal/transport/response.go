// Package transport contains the HTTP router, middleware chain, and the
// handlers that expose form evaluation and form sessions.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pitabwire/formengine/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:           http.StatusBadRequest,
	model.ErrUnauthorized:         http.StatusUnauthorized,
	model.ErrNotFound:             http.StatusNotFound,
	model.ErrSessionNotFound:      http.StatusNotFound,
	model.ErrConflict:             http.StatusConflict,
	model.ErrTransitionInProgress: http.StatusConflict,
	model.ErrAlreadySubmitted:     http.StatusConflict,
	model.ErrValidationError:      http.StatusUnprocessableEntity,
	model.ErrPaymentFailed:        http.StatusPaymentRequired,
	model.ErrCaptchaFailed:        http.StatusUnprocessableEntity,
	model.ErrSubmissionFailed:     http.StatusBadGateway,
	model.ErrInternalError:        http.StatusInternalServerError,
	model.ErrBackendUnavailable:   http.StatusBadGateway,
	model.ErrBackendTimeout:       http.StatusGatewayTimeout,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// errorResponse is the JSON body of every error.
type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes the ErrorEnvelope carried by err as a JSON response with
// the matching HTTP status code. Errors without an envelope become a generic
// 500 so internal details never leak.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteNotFound writes a NOT_FOUND envelope.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// decodeJSON reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError("invalid JSON body: " + err.Error())
	}
	return nil
}

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20
