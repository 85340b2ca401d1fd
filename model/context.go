package model

import (
	"context"
	"errors"
	"fmt"
)

// RequestContext carries the session a bearer token was issued for, plus the
// correlation and trace ids of the request. It is immutable after
// construction.
type RequestContext struct {
	SubjectID     string
	SessionID     string
	FormID        string
	CorrelationID string
	TraceID       string
}

// Validate checks that all mandatory fields are present.
// SessionID and FormID must be non-empty.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.SessionID == "" {
		errs = append(errs, fmt.Errorf("SessionID is required"))
	}
	if rc.FormID == "" {
		errs = append(errs, fmt.Errorf("FormID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
