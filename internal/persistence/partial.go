package persistence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/formengine/model"
)

// NewSubmissionHash derives the hash that correlates partial saves of one
// in-progress submission.
func NewSubmissionHash(formID string) string {
	sum := sha256.Sum256([]byte(formID + ":" + uuid.NewString()))
	return hex.EncodeToString(sum[:])
}

// PartialSync pushes in-progress answers to the submission store under the
// session's submission hash. It is paused while a final submission runs.
type PartialSync struct {
	formID    string
	submitter model.PartialSubmitter
	logger    *zap.Logger

	mu     sync.Mutex
	hash   string
	paused bool
}

// NewPartialSync creates a sync for formID. A nil submitter disables pushes.
func NewPartialSync(formID string, submitter model.PartialSubmitter, logger *zap.Logger) *PartialSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PartialSync{formID: formID, submitter: submitter, logger: logger}
}

// Hash returns the submission hash, creating it on first use.
func (p *PartialSync) Hash() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hash == "" {
		p.hash = NewSubmissionHash(p.formID)
	}
	return p.hash
}

// SetHash restores a hash saved with a draft.
func (p *PartialSync) SetHash(h string) {
	p.mu.Lock()
	p.hash = h
	p.mu.Unlock()
}

// Reset forgets the hash so the next push starts a new partial submission.
func (p *PartialSync) Reset() {
	p.mu.Lock()
	p.hash = ""
	p.mu.Unlock()
}

// Pause stops pushes until Resume.
func (p *PartialSync) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume re-enables pushes.
func (p *PartialSync) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Paused reports whether pushes are paused.
func (p *PartialSync) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Push saves answers as a partial submission. It is a no-op when paused,
// when there is no submitter, or when every answer is empty.
func (p *PartialSync) Push(ctx context.Context, answers model.Answers) error {
	if p.submitter == nil || p.Paused() || allEmpty(answers) {
		return nil
	}
	hash := p.Hash()
	if err := p.submitter.SavePartial(ctx, p.formID, hash, answers.Clone()); err != nil {
		p.logger.Warn("persistence: partial save failed",
			zap.String("form_id", p.formID),
			zap.Error(err),
		)
		return fmt.Errorf("save partial %s: %w", p.formID, err)
	}
	return nil
}

func allEmpty(answers model.Answers) bool {
	for _, v := range answers {
		if !model.IsEmptyValue(v) {
			return false
		}
	}
	return true
}
