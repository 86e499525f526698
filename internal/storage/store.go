package storage

import (
	"errors"
	"sort"
	"sync"
)

// ErrKeyNotFound is returned when a key doesn't exist in the store.
var ErrKeyNotFound = errors.New("key not found")

// Store defines the interface for a node's key-value container.
type Store interface {
	// Get retrieves a value by key. Returns ErrKeyNotFound if absent.
	Get(key string) (string, error)
	// Put stores a value, overwriting any existing one.
	Put(key, value string)
	// Delete removes a key. Returns ErrKeyNotFound if absent.
	Delete(key string) error
	// Len returns the number of keys.
	Len() int
	// Drain returns every entry and clears the store in one critical section.
	Drain() map[string]string
	// Merge copies entries into the store, overwriting existing keys.
	Merge(entries map[string]string)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore creates a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]string),
	}
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.data[key]
	if !exists {
		return "", ErrKeyNotFound
	}
	return value, nil
}

// Put stores a value with the given key.
func (s *MemoryStore) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
}

// Delete removes a key. Unlike a tombstone store, a missing key is an error.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists {
		return ErrKeyNotFound
	}
	delete(s.data, key)
	return nil
}

// Len returns the number of keys in the store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}

// Keys returns all keys in sorted order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the store contents.
func (s *MemoryStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyEntries(s.data)
}

// Drain dumps and clears the store. The caller owns the returned map.
//
// A write that reaches this store after Drain and before the matching Merge
// on the destination stays here; it is not carried along.
func (s *MemoryStore) Drain() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.data
	s.data = make(map[string]string)
	return out
}

// Merge copies entries into the store.
func (s *MemoryStore) Merge(entries map[string]string) {
	if len(entries) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range entries {
		s.data[k] = v
	}
}

// copyEntries creates a copy of an entry map.
func copyEntries(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
