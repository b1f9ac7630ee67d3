package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often the opportunistic sweep runs, in increments.
const sweepEvery = 4096

// MemoryStore is an in-process Store for single-instance deployments.
//
// Expired entries are reclaimed opportunistically on access; Sweep may
// additionally be called periodically as a memory bound, without changing
// observable behavior.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	ops     int
	now     func() time.Time
}

type windowEntry struct {
	count       int64
	windowStart time.Time
	expiresAt   time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// Increment implements Store.
func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok || now.Sub(ent.windowStart) >= window {
		// The boundary instant belongs to the new window.
		ent = &windowEntry{windowStart: now}
		s.entries[key] = ent
	}
	ent.count++
	ent.expiresAt = ent.windowStart.Add(2 * window)

	s.ops++
	if s.ops >= sweepEvery {
		s.ops = 0
		s.sweepLocked(now)
	}

	return ent.count, ent.windowStart, nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, ent := range s.entries {
		if !now.Before(ent.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
