package definition

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Recorder receives reload outcomes. *observability.Metrics satisfies it.
type Recorder interface {
	RecordDefinitionReload(status string)
	SetDefinitionsLoaded(count, ruleErrors int)
}

// ErrInvalidDefinitions is returned by Reload when validation fails. The
// registry keeps serving the previous snapshot.
var ErrInvalidDefinitions = errors.New("definition validation failed")

// Source loads the configured directories into a Registry and keeps it
// current.
type Source struct {
	dirs      []string
	loader    *Loader
	validator *Validator
	registry  *Registry
	logger    *zap.Logger
	recorder  Recorder
	debounce  time.Duration

	mu     sync.Mutex
	report Report
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) SourceOption {
	return func(s *Source) { s.logger = l }
}

// WithRecorder sets the reload recorder.
func WithRecorder(r Recorder) SourceOption {
	return func(s *Source) { s.recorder = r }
}

// WithDebounce sets how long the watcher waits for a burst of file events
// to settle before reloading.
func WithDebounce(d time.Duration) SourceOption {
	return func(s *Source) { s.debounce = d }
}

// NewSource creates a Source over dirs with an empty registry. Call Reload
// to populate it.
func NewSource(dirs []string, opts ...SourceOption) *Source {
	s := &Source{
		dirs:      dirs,
		loader:    NewLoader(),
		validator: NewValidator(),
		registry:  NewRegistry(nil),
		logger:    zap.NewNop(),
		debounce:  250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry the source maintains.
func (s *Source) Registry() *Registry {
	return s.registry
}

// Report returns the result of the last reload attempt.
func (s *Source) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Reload loads, validates and publishes the definitions. Rule errors are
// logged and published with the forms; structural errors reject the whole
// set.
func (s *Source) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.loader.LoadAll(s.dirs)
	if err != nil {
		s.record("error")
		return fmt.Errorf("loading definitions: %w", err)
	}

	rep := s.validator.Validate(files)
	s.report = rep
	for _, ve := range rep.RuleErrors {
		s.logger.Warn("definition rule error, field logic disabled",
			zap.String("path", ve.Path),
			zap.String("reason", ve.Message),
		)
	}
	if !rep.OK() {
		for _, ve := range rep.Errors {
			s.logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		s.record("invalid")
		return fmt.Errorf("%w: %d errors", ErrInvalidDefinitions, len(rep.Errors))
	}

	s.registry.Replace(files)
	s.record("ok")
	if s.recorder != nil {
		s.recorder.SetDefinitionsLoaded(s.registry.Len(), len(rep.RuleErrors))
	}
	s.logger.Info("definitions loaded",
		zap.Int("files", len(files)),
		zap.Int("forms", s.registry.Len()),
		zap.Int("rule_errors", len(rep.RuleErrors)),
		zap.String("checksum", s.registry.Checksum()),
	)
	return nil
}

func (s *Source) record(status string) {
	if s.recorder != nil {
		s.recorder.RecordDefinitionReload(status)
	}
}

// Watch reloads the definitions whenever a YAML file under the configured
// directories changes. It blocks until ctx is cancelled. Failed reloads are
// logged and the previous snapshot stays in place.
func (s *Source) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range s.dirs {
		if err := addTree(watcher, dir); err != nil {
			return err
		}
	}
	s.logger.Info("watching definitions", zap.Strings("directories", s.dirs))

	// A nil channel blocks until the first relevant event arms the timer.
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						s.logger.Warn("watching new directory failed", zap.String("path", event.Name), zap.Error(err))
					}
					// Files may land before the directory is watched.
					settle = time.After(s.debounce)
					continue
				}
			}
			if !isDefinitionFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			s.logger.Debug("definition file changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()),
			)
			settle = time.After(s.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("definition watcher error", zap.Error(err))

		case <-settle:
			settle = nil
			if err := s.Reload(); err != nil {
				s.logger.Error("definition reload failed, keeping previous definitions", zap.Error(err))
			}
		}
	}
}

// addTree watches dir and every directory below it.
func addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
