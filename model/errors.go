package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Form-engine error codes.
const (
	ErrRuleError            = "RULE_ERROR"
	ErrTransitionInProgress = "TRANSITION_IN_PROGRESS"
	ErrAlreadySubmitted     = "ALREADY_SUBMITTED"
	ErrPaymentFailed        = "PAYMENT_FAILED"
	ErrCaptchaFailed        = "CAPTCHA_FAILED"
	ErrSubmissionFailed     = "SUBMISSION_FAILED"
	ErrSessionNotFound      = "SESSION_NOT_FOUND"
)

// ErrorEnvelope is the standard error value returned by the engine and
// rendered by the transport layer. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// CodeOf returns the ErrorEnvelope code carried by err, or "" if err does
// not wrap an ErrorEnvelope.
func CodeOf(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// NewTransitionInProgressError is returned when a page change or submission
// is attempted while another one is still running.
func NewTransitionInProgressError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTransitionInProgress,
		Message: "Another page change or submission is in progress",
	}
}

// NewAlreadySubmittedError is returned for transitions on a submitted session.
func NewAlreadySubmittedError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrAlreadySubmitted,
		Message: "The form has already been submitted",
	}
}

// NewTransitionError returns a rejected-transition error of the given kind
// (ErrPaymentFailed, ErrCaptchaFailed or ErrSubmissionFailed).
func NewTransitionError(code, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: msg}
}

// RuleError describes a malformed condition tree found while compiling a
// field's logic. The field is treated as having no logic.
type RuleError struct {
	FieldID string `json:"field_id"`
	Path    string `json:"path"`
	Reason  string `json:"reason"`
}

func (e *RuleError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: field %q: %s", ErrRuleError, e.FieldID, e.Reason)
	}
	return fmt.Sprintf("%s: field %q at %s: %s", ErrRuleError, e.FieldID, e.Path, e.Reason)
}
