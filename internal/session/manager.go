package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/formengine/internal/condition"
	"github.com/pitabwire/formengine/model"
)

// Manager holds the live sessions of a server.
type Manager struct {
	collab    Collaborators
	cfg       Config
	evaluator *condition.Evaluator
	logger    *zap.Logger
	recorder  Recorder

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. Sessions share the collaborators,
// configuration and evaluator.
func NewManager(collab Collaborators, cfg Config, evaluator *condition.Evaluator, logger *zap.Logger, recorder Recorder) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		collab:    collab,
		cfg:       cfg,
		evaluator: evaluator,
		logger:    logger,
		recorder:  recorder,
		sessions:  make(map[string]*Session),
	}
}

// Create starts and initializes a session for form in the given mode.
func (m *Manager) Create(ctx context.Context, form model.FormDefinition, mode Mode, opts Options) (*Session, error) {
	cfg := m.cfg
	cfg.Mode = mode
	s := New(form, m.collab, cfg,
		WithLogger(m.logger),
		WithRecorder(m.recorder),
		WithEvaluator(m.evaluator),
	)
	if err := s.Initialize(ctx, opts); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, &model.ErrorEnvelope{
			Code:    model.ErrSessionNotFound,
			Message: fmt.Sprintf("session %q not found", id),
		}
	}
	return s, nil
}

// Delete closes and removes a session.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions idle since before cutoff and returns how many were
// removed.
func (m *Manager) Sweep(cutoff time.Time) int {
	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) && !s.State().Processing {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	if len(idle) > 0 {
		m.logger.Info("session: swept idle sessions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
