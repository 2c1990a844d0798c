package ratelimit

import (
	"context"
	"sync"
	"time"

	"MigrationDashboard/internal/domain"
)

// MemoryStore keeps counters in process memory. It is only correct when a
// single server process handles all traffic.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]domain.RateLimitEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]domain.RateLimitEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key string, now time.Time) (domain.RateLimitEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanExpired(now)
	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, now time.Time, decay time.Duration) (domain.RateLimitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanExpired(now)
	return s.bump(key, now, decay), nil
}

func (s *MemoryStore) IncrementBelow(_ context.Context, key string, maxAttempts int, now time.Time, decay time.Duration) (bool, domain.RateLimitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanExpired(now)
	if e, ok := s.entries[key]; ok && e.Attempts >= maxAttempts {
		return false, e, nil
	}
	return true, s.bump(key, now, decay), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]domain.RateLimitEntry)
	return nil
}

// Len reports the number of tracked keys, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) bump(key string, now time.Time, decay time.Duration) domain.RateLimitEntry {
	e := s.entries[key]
	e.Key = key
	e.Attempts++
	e.ExpiresAt = now.Add(decay)
	s.entries[key] = e
	return e
}

// cleanExpired must be called with mu held.
func (s *MemoryStore) cleanExpired(now time.Time) {
	for k, e := range s.entries {
		if !e.Active(now) {
			delete(s.entries, k)
		}
	}
}
