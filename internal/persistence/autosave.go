package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/formengine/model"
)

// DefaultAutosaveInterval is the minimum time between two draft writes.
const DefaultAutosaveInterval = time.Second

// Recorder receives autosave outcomes.
type Recorder interface {
	RecordAutosave(outcome string)
}

// Autosaver coalesces draft writes to at most one per interval. The first
// save after a quiet period is written immediately; saves arriving within
// the interval replace each other and the latest one is written when the
// interval elapses.
type Autosaver struct {
	store    DraftStore
	key      string
	interval time.Duration
	ttl      time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time

	mu        sync.Mutex
	pending   *model.Draft
	lastWrite time.Time
	timer     *time.Timer
	gen       uint64
	closed    bool
	wg        sync.WaitGroup

	// writeMu orders store writes and clears.
	writeMu sync.Mutex
}

// AutosaveOption configures an Autosaver.
type AutosaveOption func(*Autosaver)

// WithInterval sets the throttle interval.
func WithInterval(d time.Duration) AutosaveOption {
	return func(a *Autosaver) { a.interval = d }
}

// WithTTL sets the draft TTL passed to the store.
func WithTTL(d time.Duration) AutosaveOption {
	return func(a *Autosaver) { a.ttl = d }
}

// WithAutosaveLogger sets the logger.
func WithAutosaveLogger(l *zap.Logger) AutosaveOption {
	return func(a *Autosaver) { a.logger = l }
}

// WithAutosaveRecorder sets the metrics recorder.
func WithAutosaveRecorder(r Recorder) AutosaveOption {
	return func(a *Autosaver) { a.recorder = r }
}

// NewAutosaver creates an autosaver writing to store under key.
func NewAutosaver(store DraftStore, key string, opts ...AutosaveOption) *Autosaver {
	a := &Autosaver{
		store:    store,
		key:      key,
		interval: DefaultAutosaveInterval,
		timeout:  5 * time.Second,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Key returns the draft key.
func (a *Autosaver) Key() string {
	return a.key
}

// Save schedules draft to be written.
func (a *Autosaver) Save(draft model.Draft) {
	draft.Answers = draft.Answers.Clone()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.pending = &draft

	// A trailing write is already scheduled and will pick up this draft.
	if a.timer != nil {
		a.mu.Unlock()
		return
	}

	wait := a.interval - a.now().Sub(a.lastWrite)
	if wait <= 0 {
		p, gen := a.takeLocked()
		a.mu.Unlock()
		a.write(p, gen)
		return
	}

	a.wg.Add(1)
	a.timer = time.AfterFunc(wait, a.fire)
	a.mu.Unlock()
}

// takeLocked removes the pending draft and marks a write. Callers hold mu.
func (a *Autosaver) takeLocked() (*model.Draft, uint64) {
	p := a.pending
	a.pending = nil
	if p != nil {
		a.lastWrite = a.now()
	}
	return p, a.gen
}

// stopTimerLocked cancels a scheduled trailing write. Callers hold mu.
func (a *Autosaver) stopTimerLocked() {
	if a.timer == nil {
		return
	}
	if a.timer.Stop() {
		a.wg.Done()
	}
	a.timer = nil
}

func (a *Autosaver) fire() {
	defer a.wg.Done()

	a.mu.Lock()
	a.timer = nil
	p, gen := a.takeLocked()
	a.mu.Unlock()

	a.write(p, gen)
}

func (a *Autosaver) write(p *model.Draft, gen uint64) {
	if p == nil {
		return
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	// A Clear since the draft was taken wins over it.
	a.mu.Lock()
	stale := gen != a.gen
	a.mu.Unlock()
	if stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	p.SavedAt = a.now()
	if err := a.store.Save(ctx, a.key, *p, a.ttl); err != nil {
		a.logger.Warn("persistence: draft save failed", zap.String("key", a.key), zap.Error(err))
		a.record("error")
		return
	}
	a.record("saved")
}

func (a *Autosaver) record(outcome string) {
	if a.recorder != nil {
		a.recorder.RecordAutosave(outcome)
	}
}

// Flush writes any pending draft now.
func (a *Autosaver) Flush() {
	a.mu.Lock()
	a.stopTimerLocked()
	p, gen := a.takeLocked()
	a.mu.Unlock()

	a.write(p, gen)
}

// Clear drops any pending draft and removes the stored one.
func (a *Autosaver) Clear(ctx context.Context) error {
	a.mu.Lock()
	a.stopTimerLocked()
	a.pending = nil
	a.gen++
	a.mu.Unlock()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := a.store.Clear(ctx, a.key); err != nil {
		return err
	}
	a.record("cleared")
	return nil
}

// Close flushes pending work and stops accepting saves.
func (a *Autosaver) Close() {
	a.Flush()

	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.wg.Wait()
}
