package kv

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key is missing or already past its TTL.
var ErrNotFound = errors.New("kv: key not found")

// Store is a key-value store with per-key TTL and atomic read-modify-write.
// All registry mutations go through Update so that a second concurrent
// operation on the same key can never observe a half-applied change.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value under key. A zero expiresAt means no TTL.
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	// Update atomically replaces the value of key with fn(current). fn may
	// return a new expiry; a zero expiry keeps the existing one. Update
	// returns ErrNotFound when the key is missing or expired.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, time.Time, error)) error
	Delete(ctx context.Context, key string) error
	// Keys lists live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is the in-process Store used in development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) live(e memoryEntry) bool {
	return e.expiresAt.IsZero() || s.now().Before(e.expiresAt)
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !s.live(entry) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set writes value under key with an optional TTL.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = memoryEntry{value: stored, expiresAt: expiresAt}
	return nil
}

// Update applies fn to the current value under the store lock.
func (s *MemoryStore) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, time.Time, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !s.live(entry) {
		delete(s.entries, key)
		return ErrNotFound
	}

	next, expiresAt, err := fn(entry.value)
	if err != nil {
		return err
	}
	if expiresAt.IsZero() {
		expiresAt = entry.expiresAt
	}

	stored := make([]byte, len(next))
	copy(stored, next)
	s.entries[key] = memoryEntry{value: stored, expiresAt: expiresAt}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Keys lists live keys with the given prefix.
func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0)
	for key, entry := range s.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix && s.live(entry) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
