package store

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MaxKeyLength is the maximum allowed length for a stored key.
const MaxKeyLength = 512

// Sentinel errors for store operations.
var (
	ErrNilStore   = errors.New("store: store is nil")
	ErrInvalidKey = errors.New("store: key is invalid")
	ErrKeyTooLong = errors.New("store: key exceeds max length")
)

// Store is the durable key-value medium cache entries are persisted to.
// Implementations range from an in-memory map (tests) to a real persistent
// backend; the TTL cache layered on top never assumes anything beyond this
// contract.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: Get returns (nil, false, nil) on miss; errors are reserved for
//   medium failures (I/O, quota), which callers may treat as misses.
type Store interface {
	// Get retrieves a raw value. Returns (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a raw value, replacing any previous value for the key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a value. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error

	// Keys returns all stored keys beginning with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ValidateKey checks if a key is valid for storage.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
	}
}

// Get retrieves a value. Returns (nil, false, nil) on miss.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	value, ok := s.values[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores a value, replacing any previous value for the key.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

// Delete removes a value. Idempotent - no error on miss.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
	return nil
}

// Keys returns all stored keys beginning with prefix.
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len returns the number of stored values.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
