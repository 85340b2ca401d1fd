package model

import "context"

// FieldValidator validates the given field ids against the current answers
// and returns a per-field error map. An empty map means the fields are valid.
// A non-nil error means the validation call itself failed.
type FieldValidator interface {
	Validate(ctx context.Context, form FormDefinition, fieldIDs []string, answers Answers) (map[string]string, error)
}

// PaymentIntent is the result of creating a payment intent.
type PaymentIntent struct {
	ClientSecret string `json:"client_secret"`
}

// BillingDetails are passed through to the payment provider on confirmation.
type BillingDetails struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// PaymentConfirmation is the outcome of confirming a payment intent.
type PaymentConfirmation struct {
	Success     bool   `json:"success"`
	ReferenceID string `json:"reference_id,omitempty"`
	Message     string `json:"message,omitempty"`
}

// PaymentProvider creates and confirms payment intents.
type PaymentProvider interface {
	CreateIntent(ctx context.Context, amount float64, currency, description string) (PaymentIntent, error)
	Confirm(ctx context.Context, clientSecret string, billing BillingDetails) (PaymentConfirmation, error)
}

// Submitter delivers a final or partial submission.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) (SubmissionResult, error)
}

// PartialSubmitter stores in-progress answers keyed by a submission hash.
type PartialSubmitter interface {
	SavePartial(ctx context.Context, formID, submissionHash string, answers Answers) error
}

// SubmissionFetcher loads the answers of an existing submission.
type SubmissionFetcher interface {
	FetchSubmission(ctx context.Context, formID, submissionID string) (Answers, error)
}

// SubmissionIndex answers whether a value was already submitted for a
// field. It backs the exists_in_submissions operators.
type SubmissionIndex interface {
	Exists(ctx context.Context, formID, fieldID string, value any) (bool, error)
}

// CaptchaProvider obtains a captcha token when none was supplied.
type CaptchaProvider interface {
	Token(ctx context.Context) (string, error)
}
