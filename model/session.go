package model

import "time"

// SessionState is the navigation state of a form session.
type SessionState struct {
	PageIndex  int  `json:"page_index"`
	Processing bool `json:"processing"`
	Submitted  bool `json:"submitted"`
}

// Draft is the locally persisted snapshot of an in-progress session.
type Draft struct {
	FormID         string    `json:"form_id"`
	Answers        Answers   `json:"answers"`
	ElapsedSeconds int       `json:"elapsed_seconds,omitempty"`
	SubmissionHash string    `json:"submission_hash,omitempty"`
	SavedAt        time.Time `json:"saved_at"`
}

// Submission is the payload handed to the Submitter on final submit.
type Submission struct {
	FormID         string  `json:"form_id"`
	SubmissionID   string  `json:"submission_id,omitempty"`
	SubmissionHash string  `json:"submission_hash,omitempty"`
	Answers        Answers `json:"answers"`
	CompletionTime int     `json:"completion_time,omitempty"`
	CaptchaToken   string  `json:"captcha_token,omitempty"`
	IsPartial      bool    `json:"is_partial,omitempty"`
}

// SubmissionResult is returned by a successful submission.
type SubmissionResult struct {
	SubmissionID string `json:"submission_id,omitempty"`
	Redirect     string `json:"redirect,omitempty"`
	Message      string `json:"message,omitempty"`
}

// StoredSubmission is a submission held by a submission store.
type StoredSubmission struct {
	ID             string    `json:"id"`
	FormID         string    `json:"form_id"`
	Answers        Answers   `json:"answers"`
	SubmissionHash string    `json:"submission_hash,omitempty"`
	Partial        bool      `json:"partial"`
	CompletionTime int       `json:"completion_time,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int       `json:"version"`
}
