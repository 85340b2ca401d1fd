package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/formengine/model"
)

// CacheRecorder receives cache hits and misses.
type CacheRecorder interface {
	RecordExistsCacheHit()
	RecordExistsCacheMiss()
}

// CachedIndex wraps a SubmissionIndex. Concurrent identical lookups share
// one backend call and results are kept for a short TTL.
type CachedIndex struct {
	next  model.SubmissionIndex
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group
	rec   CacheRecorder

	mu      sync.Mutex
	entries map[string]cachedLookup
}

type cachedLookup struct {
	exists    bool
	expiresAt time.Time
}

// NewCachedIndex creates a cache in front of next. A zero ttl only
// collapses concurrent lookups.
func NewCachedIndex(next model.SubmissionIndex, ttl time.Duration) *CachedIndex {
	return &CachedIndex{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedLookup),
	}
}

// WithRecorder sets the hit/miss recorder.
func (c *CachedIndex) WithRecorder(r CacheRecorder) *CachedIndex {
	c.rec = r
	return c
}

func lookupKey(formID, fieldID string, value any) string {
	return formID + "\x00" + fieldID + "\x00" + strings.Join(candidates(value), "\x1f")
}

// Exists implements model.SubmissionIndex.
func (c *CachedIndex) Exists(ctx context.Context, formID, fieldID string, value any) (bool, error) {
	key := lookupKey(formID, fieldID, value)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		if c.rec != nil {
			c.rec.RecordExistsCacheHit()
		}
		return e.exists, nil
	}
	c.mu.Unlock()
	if c.rec != nil {
		c.rec.RecordExistsCacheMiss()
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.next.Exists(ctx, formID, fieldID, value)
	})
	if err != nil {
		return false, err
	}
	exists := v.(bool)

	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[key] = cachedLookup{exists: exists, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return exists, nil
}

// Invalidate drops cached lookups for a form.
func (c *CachedIndex) Invalidate(formID string) {
	prefix := formID + "\x00"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// InvalidatingSubmitter drops cached lookups of a form after each successful
// submission so exists_in_submissions sees the new answers.
type InvalidatingSubmitter struct {
	model.Submitter
	Cache *CachedIndex
}

// Submit implements model.Submitter.
func (s InvalidatingSubmitter) Submit(ctx context.Context, sub model.Submission) (model.SubmissionResult, error) {
	res, err := s.Submitter.Submit(ctx, sub)
	if err == nil {
		s.Cache.Invalidate(sub.FormID)
	}
	return res, err
}
