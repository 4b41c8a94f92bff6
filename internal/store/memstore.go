package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// MemoryStore implements Store interface with in-memory storage
// Uses sync.Mutex for thread-safe concurrent access
//
// MemoryStore carries no persistence and is intended for tests and for
// embedding a throwaway shelf inside another process.
type MemoryStore struct {
	mu  sync.Mutex                 // Protects concurrent access
	doc map[string]json.RawMessage // Keyed JSON document
}

// NewMemoryStore creates a new in-memory store holding an empty document
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		doc: make(map[string]json.RawMessage),
	}
}

// Contains reports whether key is present
func (m *MemoryStore) Contains(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.doc[key]
	return ok, nil
}

// Get unmarshals the value under key into out
// Returns ErrKeyNotFound if the key doesn't exist
func (m *MemoryStore) Get(_ context.Context, key string, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.doc[key]
	if !ok {
		return ErrKeyNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode value for key %q: %w", key, err)
	}
	return nil
}

// Set stores a value under key, overwriting any existing value
func (m *MemoryStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for key %q: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Store a copy to prevent external modification
	stored := make(json.RawMessage, len(raw))
	copy(stored, raw)
	m.doc[key] = stored
	return nil
}

// Keys returns all keys in the store
// Order is not guaranteed
func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.doc))
	for key := range m.doc {
		keys = append(keys, key)
	}
	return keys, nil
}

// Update applies fn to the value under key while holding the store lock,
// so the read-modify-write is atomic with respect to other callers.
func (m *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.doc[key]

	next, err := fn(cur, ok)
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode value for key %q: %w", key, err)
	}
	m.doc[key] = raw
	return nil
}
