// Package invoker calls the collaborator backend that hosts a form: field
// validation, submissions, partial saves, submission lookups and payments.
// Calls go through a circuit breaker and retry with exponential backoff.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/formengine/internal/config"
	"github.com/pitabwire/formengine/internal/observability"
	"github.com/pitabwire/formengine/model"
)

// Recorder receives backend call metrics. *observability.Metrics satisfies
// it.
type Recorder interface {
	RecordBackendRequest(operation string, status int, duration time.Duration)
	RecordBackendRetry(operation string)
	SetBackendCircuitBreakerState(state float64)
}

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 10 << 20

// Client is an HTTP client for the collaborator backend.
type Client struct {
	baseURL  string
	client   *http.Client
	breaker  *CircuitBreaker
	retry    config.RetryConfig
	logger   *zap.Logger
	recorder Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a backend client from cfg.
func NewClient(cfg config.BackendConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retry:  cfg.Retry,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	cb := cfg.CircuitBreaker
	c.breaker = NewCircuitBreaker(BreakerSettings{
		FailureThreshold:   cb.FailureThreshold,
		SuccessThreshold:   cb.SuccessThreshold,
		Timeout:            cb.Timeout,
		ErrorRateThreshold: cb.ErrorRateThreshold,
		ErrorRateWindow:    cb.ErrorRateWindow,
	}, c.breakerChanged)
	return c
}

func (c *Client) breakerChanged(s BreakerState) {
	c.logger.Warn("backend circuit breaker state changed", zap.String("state", s.String()))
	if c.recorder != nil {
		c.recorder.SetBackendCircuitBreakerState(float64(s))
	}
}

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// call describes one backend operation.
type call struct {
	op         string
	method     string
	path       string
	body       any
	idempotent bool
}

// response is a read backend response.
type response struct {
	status int
	body   []byte
}

// do executes the call with retries and decodes a 2xx body into out. Non-2xx
// responses are mapped to ErrorEnvelope values.
func (c *Client) do(ctx context.Context, cl call, out any) (err error) {
	ctx, span := observability.StartSpan(ctx, "backend."+cl.op, observability.AttrOperation.String(cl.op))
	defer func() { observability.EndSpanWithError(span, err) }()

	var payload []byte
	if cl.body != nil {
		payload, err = json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("invoker: marshal %s body: %w", cl.op, err)
		}
	}

	resp, err := c.executeWithRetry(ctx, cl, payload)
	if err != nil {
		return err
	}

	if resp.status >= 200 && resp.status < 300 {
		if out == nil || len(resp.body) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.body, out); err != nil {
			return fmt.Errorf("invoker: decode %s response: %w", cl.op, err)
		}
		return nil
	}
	c.logger.Debug("invoker: backend rejected request",
		zap.String("operation", cl.op),
		zap.Int("status", resp.status),
		zap.String("body", observability.RedactJSON(resp.body)),
	)
	return errorFromResponse(resp)
}

// executeWithRetry wraps executeOnce with retry logic and exponential backoff.
// Only idempotent calls are retried.
func (c *Client) executeWithRetry(ctx context.Context, cl call, payload []byte) (response, error) {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 || !cl.idempotent {
		maxAttempts = 1
	}

	var lastErr error
	var last response

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if c.recorder != nil {
				c.recorder.RecordBackendRetry(cl.op)
			}
			select {
			case <-ctx.Done():
				return response{}, ctx.Err()
			case <-time.After(calculateBackoff(c.retry, attempt)):
			}
		}

		resp, err := c.executeOnce(ctx, cl, payload)
		if err != nil {
			lastErr = err
			if !isRetryableError(err) {
				return response{}, err
			}
			c.logger.Debug("invoker: retrying after error",
				zap.String("operation", cl.op),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if isRetryableStatus(resp.status) && attempt < maxAttempts-1 {
			last, lastErr = resp, nil
			c.logger.Debug("invoker: retrying after status",
				zap.String("operation", cl.op),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Int("status", resp.status),
			)
			continue
		}
		return resp, nil
	}

	if lastErr != nil {
		return response{}, lastErr
	}
	return last, nil
}

// executeOnce performs a single HTTP request with circuit breaker protection.
func (c *Client) executeOnce(ctx context.Context, cl call, payload []byte) (response, error) {
	if err := c.breaker.Allow(); err != nil {
		return response{}, fmt.Errorf("%w: %w", err, model.NewBackendUnavailableError())
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return response{}, fmt.Errorf("invoker: build request: %w", err)
	}
	setHeaders(ctx, req, payload != nil)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.record(cl.op, 0, start)
		if ctx.Err() != nil {
			return response{}, model.NewBackendTimeoutError()
		}
		if isConnectionError(err) {
			return response{}, model.NewBackendUnavailableError()
		}
		return response{}, fmt.Errorf("invoker: %s request failed: %w", cl.op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.record(cl.op, resp.StatusCode, start)
	if err != nil {
		c.breaker.RecordFailure()
		return response{}, fmt.Errorf("invoker: read %s response: %w", cl.op, err)
	}

	// 4xx responses are the caller's fault, not the backend's.
	switch {
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
	case resp.StatusCode < 400:
		c.breaker.RecordSuccess()
	}

	return response{status: resp.StatusCode, body: respBody}, nil
}

func (c *Client) record(op string, status int, start time.Time) {
	if c.recorder != nil {
		c.recorder.RecordBackendRequest(op, status, time.Since(start))
	}
}

func setHeaders(ctx context.Context, req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		if rctx.CorrelationID != "" {
			req.Header.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		}
		if rctx.SessionID != "" {
			req.Header.Set("X-Session-Id", sanitizeHeader(rctx.SessionID))
		}
		if rctx.SubjectID != "" {
			req.Header.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
		}
	}
	observability.InjectTraceHeaders(ctx, req.Header)
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// errorFromResponse maps a non-2xx response to an ErrorEnvelope. A body
// shaped like {"error": {...}} is used as is.
func errorFromResponse(resp response) error {
	var wrapped struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(resp.body, &wrapped); err == nil && wrapped.Error != nil && wrapped.Error.Code != "" {
		return wrapped.Error
	}

	switch {
	case resp.status == http.StatusNotFound:
		return model.NewNotFoundError("backend resource not found")
	case resp.status == http.StatusConflict:
		return model.NewConflictError("backend reported a conflict")
	case resp.status == http.StatusUnprocessableEntity:
		return model.NewValidationError(nil)
	case resp.status == http.StatusGatewayTimeout:
		return model.NewBackendTimeoutError()
	case resp.status >= 500:
		return model.NewBackendUnavailableError()
	}
	return model.NewBadRequestError(fmt.Sprintf("backend rejected the request with status %d", resp.status))
}

// --- classification helpers ---

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code == model.ErrBackendUnavailable && !errors.Is(err, ErrCircuitOpen)
	}
	return true
}

func isConnectionError(err error) bool {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}
