package invoker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pitabwire/formengine/model"
)

// Backend operation names, used for metrics and span names.
const (
	OpValidate         = "validate"
	OpSubmit           = "submit"
	OpSavePartial      = "save_partial"
	OpFetchSubmission  = "fetch_submission"
	OpExists           = "exists"
	OpCreateIntent     = "create_payment_intent"
	OpConfirmPayment   = "confirm_payment"
	OpBackendReadiness = "health"
)

var (
	_ model.FieldValidator    = (*Client)(nil)
	_ model.Submitter         = (*Client)(nil)
	_ model.PartialSubmitter  = (*Client)(nil)
	_ model.SubmissionFetcher = (*Client)(nil)
	_ model.SubmissionIndex   = (*Client)(nil)
	_ model.PaymentProvider   = (*Client)(nil)
)

func formPath(formID string, parts ...string) string {
	p := "/forms/" + url.PathEscape(formID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

type validateRequest struct {
	FieldIDs []string      `json:"field_ids"`
	Answers  model.Answers `json:"answers"`
}

type validateResponse struct {
	Errors map[string]string `json:"errors"`
}

// Validate asks the backend to validate fieldIDs. The returned map is empty
// when every field is valid.
func (c *Client) Validate(ctx context.Context, form model.FormDefinition, fieldIDs []string, answers model.Answers) (map[string]string, error) {
	var resp validateResponse
	err := c.do(ctx, call{
		op:         OpValidate,
		method:     http.MethodPost,
		path:       formPath(form.ID, "validate"),
		body:       validateRequest{FieldIDs: fieldIDs, Answers: answers},
		idempotent: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Errors == nil {
		resp.Errors = map[string]string{}
	}
	return resp.Errors, nil
}

// Submit delivers a final submission. Field errors come back as a
// VALIDATION_ERROR envelope with details.
func (c *Client) Submit(ctx context.Context, sub model.Submission) (model.SubmissionResult, error) {
	var result model.SubmissionResult
	err := c.do(ctx, call{
		op:     OpSubmit,
		method: http.MethodPost,
		path:   formPath(sub.FormID, "submissions"),
		body:   sub,
	}, &result)
	return result, err
}

type partialRequest struct {
	Answers model.Answers `json:"answers"`
}

// SavePartial stores in-progress answers under the submission hash. The
// call is idempotent per hash.
func (c *Client) SavePartial(ctx context.Context, formID, submissionHash string, answers model.Answers) error {
	return c.do(ctx, call{
		op:         OpSavePartial,
		method:     http.MethodPut,
		path:       formPath(formID, "partials", submissionHash),
		body:       partialRequest{Answers: answers},
		idempotent: true,
	}, nil)
}

type submissionResponse struct {
	Answers model.Answers `json:"answers"`
}

// FetchSubmission loads the answers of an existing submission.
func (c *Client) FetchSubmission(ctx context.Context, formID, submissionID string) (model.Answers, error) {
	var resp submissionResponse
	err := c.do(ctx, call{
		op:         OpFetchSubmission,
		method:     http.MethodGet,
		path:       formPath(formID, "submissions", submissionID),
		idempotent: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Answers, nil
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

// Exists reports whether value was already submitted for the field.
func (c *Client) Exists(ctx context.Context, formID, fieldID string, value any) (bool, error) {
	q := url.Values{"value": {fmt.Sprint(value)}}
	var resp existsResponse
	err := c.do(ctx, call{
		op:         OpExists,
		method:     http.MethodGet,
		path:       formPath(formID, "fields", fieldID, "exists") + "?" + q.Encode(),
		idempotent: true,
	}, &resp)
	return resp.Exists, err
}

type intentRequest struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description,omitempty"`
}

// CreateIntent creates a payment intent through the backend.
func (c *Client) CreateIntent(ctx context.Context, amount float64, currency, description string) (model.PaymentIntent, error) {
	var intent model.PaymentIntent
	err := c.do(ctx, call{
		op:     OpCreateIntent,
		method: http.MethodPost,
		path:   "/payments/intents",
		body:   intentRequest{Amount: amount, Currency: currency, Description: description},
	}, &intent)
	return intent, err
}

type confirmRequest struct {
	ClientSecret string               `json:"client_secret"`
	Billing      model.BillingDetails `json:"billing"`
}

// Confirm confirms a payment intent. A declined payment is a successful call
// with Success false.
func (c *Client) Confirm(ctx context.Context, clientSecret string, billing model.BillingDetails) (model.PaymentConfirmation, error) {
	var conf model.PaymentConfirmation
	err := c.do(ctx, call{
		op:     OpConfirmPayment,
		method: http.MethodPost,
		path:   "/payments/confirm",
		body:   confirmRequest{ClientSecret: clientSecret, Billing: billing},
	}, &conf)
	return conf, err
}

// HealthCheck calls the backend health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, call{
		op:         OpBackendReadiness,
		method:     http.MethodGet,
		path:       "/healthz",
		idempotent: true,
	}, nil)
}
