package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrStateNotFound indicates no value is stored under the requested key.
var ErrStateNotFound = errors.New("state not found")

// StateStore is the opaque key-value store that persists client state across restarts.
type StateStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
}

// NewInMemoryStateStore returns a StateStore backed by an in-memory map.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{values: make(map[string]string)}
}

// InMemoryStateStore implements StateStore for tests and ephemeral sessions.
type InMemoryStateStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// Get returns the value stored under key.
func (s *InMemoryStateStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	value, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrStateNotFound
	}
	return value, nil
}

// Set stores value under key.
func (s *InMemoryStateStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

// Clear removes key. Clearing a missing key is not an error.
func (s *InMemoryStateStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

// Has reports whether key exists. Useful for tests.
func (s *InMemoryStateStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}
