package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	windowStart time.Time
	count       int
}

// MemoryStore keeps buckets in process memory. Limits are then per-process,
// not global across replicas — an accepted degradation when no shared store
// is configured.
type MemoryStore struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (s *MemoryStore) Hit(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now, window)
	b, ok := s.buckets[key]
	if !ok || now.Sub(b.windowStart) >= window {
		b = &bucket{windowStart: now}
		s.buckets[key] = b
	}

	if b.count >= limit {
		return Decision{
			Allowed:    false,
			RetryAfter: b.windowStart.Add(window).Sub(now),
		}, nil
	}

	b.count++
	return Decision{
		Allowed:   true,
		Remaining: limit - b.count,
	}, nil
}

// sweep drops buckets whose window has elapsed so abandoned identities do not
// accumulate. It runs at most once per window; callers hold the lock.
func (s *MemoryStore) sweep(now time.Time, window time.Duration) {
	if now.Sub(s.lastSweep) < window {
		return
	}
	for key, b := range s.buckets {
		if now.Sub(b.windowStart) >= window {
			delete(s.buckets, key)
		}
	}
	s.lastSweep = now
}
