package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sliding windows in process. Locks and counts are not
// shared between replicas.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	failures    []time.Time
	lockedUntil time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*slidingWindow)}
}

func (s *MemoryStore) RecordFailure(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil {
		w = &slidingWindow{}
		s.windows[key] = w
	}
	w.cleanup(now.Add(-window))
	w.failures = append(w.failures, now)
	return len(w.failures), nil
}

func (s *MemoryStore) LockedUntil(_ context.Context, key string, now time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil || !w.lockedUntil.After(now) {
		return time.Time{}, false, nil
	}
	return w.lockedUntil, true, nil
}

func (s *MemoryStore) Lock(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil {
		w = &slidingWindow{}
		s.windows[key] = w
	}
	w.lockedUntil = until
	w.failures = nil
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// cleanup drops failures at or before cutoff; timestamps are appended in order.
func (w *slidingWindow) cleanup(cutoff time.Time) {
	i := 0
	for ; i < len(w.failures); i++ {
		if w.failures[i].After(cutoff) {
			break
		}
	}
	w.failures = w.failures[i:]
}
