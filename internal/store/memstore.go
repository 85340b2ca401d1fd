package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/formengine/model"
)

// MemorySubmissionStore is an in-memory SubmissionStore for testing and
// single-instance deployments.
type MemorySubmissionStore struct {
	mu          sync.RWMutex
	submissions map[string]model.StoredSubmission // key: submission ID
	byHash      map[string]string                 // key: formID/hash, value: submission ID
	now         func() time.Time
}

// NewMemorySubmissionStore creates a new in-memory submission store.
func NewMemorySubmissionStore() *MemorySubmissionStore {
	return &MemorySubmissionStore{
		submissions: make(map[string]model.StoredSubmission),
		byHash:      make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func hashKey(formID, hash string) string {
	return formID + "/" + hash
}

// Submit stores a final submission. An existing submission id updates that
// submission; a known submission hash completes the matching partial one.
func (s *MemorySubmissionStore) Submit(_ context.Context, sub model.Submission) (model.SubmissionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := sub.SubmissionID
	if id == "" && sub.SubmissionHash != "" {
		id = s.byHash[hashKey(sub.FormID, sub.SubmissionHash)]
	}

	if id != "" {
		existing, ok := s.submissions[id]
		if !ok || existing.FormID != sub.FormID {
			return model.SubmissionResult{}, model.NewNotFoundError(
				fmt.Sprintf("submission %q not found", id),
			)
		}
		existing.Answers = sub.Answers.Clone()
		existing.Partial = sub.IsPartial
		existing.CompletionTime = sub.CompletionTime
		existing.UpdatedAt = now
		existing.Version++
		s.submissions[id] = existing
		return model.SubmissionResult{SubmissionID: id}, nil
	}

	id = uuid.NewString()
	s.submissions[id] = model.StoredSubmission{
		ID:             id,
		FormID:         sub.FormID,
		Answers:        sub.Answers.Clone(),
		SubmissionHash: sub.SubmissionHash,
		Partial:        sub.IsPartial,
		CompletionTime: sub.CompletionTime,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	if sub.SubmissionHash != "" {
		s.byHash[hashKey(sub.FormID, sub.SubmissionHash)] = id
	}
	return model.SubmissionResult{SubmissionID: id}, nil
}

// SavePartial upserts the partial submission identified by hash. Saving
// over a completed submission is a conflict.
func (s *MemorySubmissionStore) SavePartial(_ context.Context, formID, hash string, answers model.Answers) error {
	if hash == "" {
		return model.NewBadRequestError("submission hash is required for partial saves")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.byHash[hashKey(formID, hash)]; ok {
		existing := s.submissions[id]
		if !existing.Partial {
			return model.NewConflictError(
				fmt.Sprintf("submission %q is already complete", id),
			)
		}
		existing.Answers = answers.Clone()
		existing.UpdatedAt = now
		existing.Version++
		s.submissions[id] = existing
		return nil
	}

	id := uuid.NewString()
	s.submissions[id] = model.StoredSubmission{
		ID:             id,
		FormID:         formID,
		Answers:        answers.Clone(),
		SubmissionHash: hash,
		Partial:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	s.byHash[hashKey(formID, hash)] = id
	return nil
}

// Get retrieves a submission by id, scoped to a form.
func (s *MemorySubmissionStore) Get(_ context.Context, formID, submissionID string) (model.StoredSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[submissionID]
	if !ok || sub.FormID != formID {
		return model.StoredSubmission{}, model.NewNotFoundError(
			fmt.Sprintf("submission %q not found", submissionID),
		)
	}
	sub.Answers = sub.Answers.Clone()
	return sub, nil
}

// FetchSubmission returns the answers of an existing submission.
func (s *MemorySubmissionStore) FetchSubmission(ctx context.Context, formID, submissionID string) (model.Answers, error) {
	sub, err := s.Get(ctx, formID, submissionID)
	if err != nil {
		return nil, err
	}
	return sub.Answers, nil
}

// Exists reports whether a completed submission of formID answered fieldID
// with a value sharing an element with value.
func (s *MemorySubmissionStore) Exists(_ context.Context, formID, fieldID string, value any) (bool, error) {
	want := candidates(value)
	if len(want) == 0 {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.submissions {
		if sub.FormID != formID || sub.Partial {
			continue
		}
		if intersects(want, candidates(sub.Answers[fieldID])) {
			return true, nil
		}
	}
	return false, nil
}

// List returns submissions of a form, newest first.
func (s *MemorySubmissionStore) List(_ context.Context, formID string, filters Filters) ([]model.StoredSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.StoredSubmission
	for _, sub := range s.submissions {
		if sub.FormID != formID {
			continue
		}
		if sub.Partial && !filters.IncludePartial {
			continue
		}
		result = append(result, sub)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.StoredSubmission{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}

// Len returns the total number of submissions. For testing.
func (s *MemorySubmissionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.submissions)
}
