// Package persistence keeps in-progress session answers durable: locally
// saved drafts, a throttled autosaver and partial submissions pushed to the
// submission store.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/formengine/model"
)

// DraftStore saves session drafts. The key format is
// "draft:{formId}:{clientKey}".
type DraftStore interface {
	// Load returns the draft for key. found is false when there is none or
	// it has expired.
	Load(ctx context.Context, key string) (draft model.Draft, found bool, err error)

	// Save stores a draft with a TTL. A zero TTL keeps it until cleared.
	Save(ctx context.Context, key string, draft model.Draft, ttl time.Duration) error

	// Clear removes the draft for key. Clearing a missing key is not an error.
	Clear(ctx context.Context, key string) error
}

// DraftKey builds the standard draft key.
func DraftKey(formID, clientKey string) string {
	return fmt.Sprintf("draft:%s:%s", formID, clientKey)
}

// --- MemoryDraftStore ---

// MemoryDraftStore is an in-memory DraftStore with TTL support.
type MemoryDraftStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	draft     model.Draft
	expiresAt time.Time
}

// NewMemoryDraftStore creates a new in-memory draft store.
func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// Load returns a copy of the stored draft.
func (s *MemoryDraftStore) Load(_ context.Context, key string) (model.Draft, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return model.Draft{}, false, nil
	}

	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return model.Draft{}, false, nil
	}

	d := entry.draft
	d.Answers = d.Answers.Clone()
	return d, true, nil
}

// Save stores a copy of draft.
func (s *MemoryDraftStore) Save(_ context.Context, key string, draft model.Draft, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft.Answers = draft.Answers.Clone()
	e := &memEntry{draft: draft}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Clear removes a draft.
func (s *MemoryDraftStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryDraftStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisDraftStore ---

// RedisDraftStore is a Redis-backed DraftStore with TTL.
type RedisDraftStore struct {
	client redis.Cmdable
}

// NewRedisDraftStore creates a new Redis-backed draft store.
func NewRedisDraftStore(client redis.Cmdable) *RedisDraftStore {
	return &RedisDraftStore{client: client}
}

// Load reads a draft from Redis.
func (s *RedisDraftStore) Load(ctx context.Context, key string) (model.Draft, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Draft{}, false, nil
	}
	if err != nil {
		return model.Draft{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var d model.Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return model.Draft{}, false, fmt.Errorf("unmarshal draft %q: %w", key, err)
	}
	return d, true, nil
}

// Save writes a draft to Redis with TTL.
func (s *RedisDraftStore) Save(ctx context.Context, key string, draft model.Draft, ttl time.Duration) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Clear deletes a draft from Redis.
func (s *RedisDraftStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisDraftStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
