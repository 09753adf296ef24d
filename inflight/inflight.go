package inflight

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
)

// Fingerprint derives the deduplication key for one logical request:
// the entity key plus the sorted requested source set. Two concurrent
// requests with the same fingerprint must not both reach the sources.
// Format: <entityKey>:<hash> where hash is the first 16 hex characters of
// SHA-256 over the canonical request string.
func Fingerprint(entityKey string, sources []string) string {
	sorted := make([]string, len(sources))
	copy(sorted, sources)
	sort.Strings(sorted)

	h := sha256.Sum256([]byte(entityKey + "|" + strings.Join(sorted, ",")))
	return entityKey + ":" + hex.EncodeToString(h[:8])
}

// Registry tracks the fingerprints of requests currently being serviced.
// The first caller to claim a fingerprint owns the fetch; later callers
// with the same fingerprint wait on the cache instead of re-issuing source
// calls.
type Registry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]struct{}),
	}
}

// TryClaim atomically inserts the fingerprint if absent. Returns true if
// this caller is now the owner.
func (r *Registry) TryClaim(fingerprint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[fingerprint]; exists {
		return false
	}
	r.active[fingerprint] = struct{}{}
	return true
}

// Release removes the fingerprint. Idempotent; owners must call it on every
// exit path, success or failure.
func (r *Registry) Release(fingerprint string) {
	r.mu.Lock()
	delete(r.active, fingerprint)
	r.mu.Unlock()
}

// Active reports whether the fingerprint is currently claimed.
func (r *Registry) Active(fingerprint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.active[fingerprint]
	return exists
}

// Len returns the number of claimed fingerprints.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
