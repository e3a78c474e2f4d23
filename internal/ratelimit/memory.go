package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. The mutex serializes increments,
// which gives exact counting; it exists for tests and single-node
// development, not for deployments that need durable lockouts.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]*Record)}
}

func (s *MemoryStore) Increment(_ context.Context, key Key, now time.Time, window time.Duration) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &Record{Attempts: 1, WindowStart: now, LastAttempt: now}
		s.records[key] = rec
		return *rec, nil
	}

	// Active lock: freeze the record.
	if !rec.LockedUntil.IsZero() && rec.LockedUntil.After(now) {
		return *rec, nil
	}

	// Expired lock or stale window: start fresh.
	if !rec.LockedUntil.IsZero() || rec.LastAttempt.Before(now.Add(-window)) {
		rec.Attempts = 1
		rec.WindowStart = now
		rec.LockedUntil = time.Time{}
	} else {
		rec.Attempts++
	}
	rec.LastAttempt = now

	return *rec, nil
}

func (s *MemoryStore) Lock(_ context.Context, key Key, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok {
		rec.LockedUntil = until
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

func (s *MemoryStore) PurgeStale(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, rec := range s.records {
		if !rec.LockedUntil.IsZero() && rec.LockedUntil.After(cutoff) {
			continue
		}
		if rec.LastAttempt.Before(cutoff) {
			delete(s.records, key)
		}
	}
	return nil
}
