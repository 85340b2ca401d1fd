// Package store persists form submissions on the server side. A store backs
// final and partial submissions, editable-submission fetches, and the
// exists_in_submissions lookups of the condition evaluator.
package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pitabwire/formengine/model"
)

// SubmissionStore persists submissions for all forms.
type SubmissionStore interface {
	model.Submitter
	model.PartialSubmitter
	model.SubmissionFetcher
	model.SubmissionIndex

	// Get retrieves a submission by id, scoped to a form. Returns NOT_FOUND
	// if it does not exist.
	Get(ctx context.Context, formID, submissionID string) (model.StoredSubmission, error)

	// List returns submissions of a form, newest first.
	List(ctx context.Context, formID string, filters Filters) ([]model.StoredSubmission, error)
}

// Filters are optional filters for listing submissions.
type Filters struct {
	IncludePartial bool
	Limit          int
	Offset         int
}

// candidates renders a value as the set of strings it matches by. Scalars
// yield one string, lists one per element. Numbers use their shortest form
// so that 5, 5.0 and "5" match.
func candidates(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, candidates(e)...)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case float64:
		return []string{strconv.FormatFloat(t, 'f', -1, 64)}
	case float32:
		return []string{strconv.FormatFloat(float64(t), 'f', -1, 32)}
	case int:
		return []string{strconv.Itoa(t)}
	case int64:
		return []string{strconv.FormatInt(t, 10)}
	case bool:
		return []string{strconv.FormatBool(t)}
	case map[string]any:
		return nil
	}
	return []string{fmt.Sprint(v)}
}

// intersects reports whether a and b share an element.
func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}
