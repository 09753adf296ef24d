package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/periodica/enrich/observe"
)

// Entry is the persisted record for one cached value. Entries are immutable
// once written; a later Set for the same key supersedes, never mutates.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Source    string          `json:"source"`
}

// Expired reports whether the entry is past its expiry at the given time.
// An entry is fresh strictly before ExpiresAt; at the instant itself it is
// already expired.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Decode unmarshals the entry's data into v.
func (e Entry) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// TTLCacheConfig configures a TTL cache.
type TTLCacheConfig struct {
	// Prefix namespaces this cache's keys in the underlying store.
	// Default: "enrich"
	Prefix string

	// DefaultTTL is the entry lifetime used when Set is called with ttl<=0.
	// Default: 1 hour
	DefaultTTL time.Duration

	// MaxEntries is the entry-count ceiling for this prefix. When exceeded,
	// the oldest-created entries are evicted first.
	// Default: 256
	MaxEntries int

	// Logger receives swallowed medium failures. Default: no-op.
	Logger observe.Logger

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// TTLCache is a prefix-scoped, size-bounded TTL cache layered over a Store.
//
// The cache is an optimization, not a correctness dependency: medium
// failures are swallowed and logged, degrading to miss behavior. Expired
// entries are treated as absent on read and deleted as a side effect;
// every write runs a cleanup pass that purges expired entries and evicts
// the oldest-created entries past MaxEntries. Eviction is by write recency,
// not read recency - access patterns are dominated by a small hot set, so
// the approximation holds up.
type TTLCache struct {
	store  Store
	config TTLCacheConfig

	mu sync.Mutex // serializes read-modify-write cleanup passes
}

// NewTTLCache creates a TTL cache over the given store.
func NewTTLCache(s Store, config TTLCacheConfig) *TTLCache {
	// Apply defaults
	if config.Prefix == "" {
		config.Prefix = "enrich"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = time.Hour
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 256
	}
	if config.Logger == nil {
		config.Logger = observe.NewNopLogger()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &TTLCache{store: s, config: config}
}

// Get retrieves the entry for key. Returns (Entry{}, false) if the key is
// missing, expired, unreadable, or the medium fails. Expired and corrupt
// entries are deleted as a side effect.
func (c *TTLCache) Get(ctx context.Context, key string) (Entry, bool) {
	full := c.fullKey(key)

	raw, ok, err := c.store.Get(ctx, full)
	if err != nil {
		c.config.Logger.Warn(ctx, "cache read failed",
			observe.Field{Key: "key", Value: full},
			observe.Field{Key: "error", Value: err.Error()})
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.config.Logger.Warn(ctx, "cache entry corrupt, dropping",
			observe.Field{Key: "key", Value: full},
			observe.Field{Key: "error", Value: err.Error()})
		c.deleteFull(ctx, full)
		return Entry{}, false
	}

	if entry.Expired(c.config.Now()) {
		c.deleteFull(ctx, full)
		return Entry{}, false
	}

	return entry, true
}

// Set writes a new entry for key with expiry now+ttl (DefaultTTL when
// ttl<=0), then runs cleanup. Medium failures are swallowed and logged.
func (c *TTLCache) Set(ctx context.Context, key string, data any, ttl time.Duration, source string) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	raw, err := json.Marshal(data)
	if err != nil {
		c.config.Logger.Warn(ctx, "cache value not serializable, skipping",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()})
		return
	}

	now := c.config.Now()
	entry := Entry{
		Data:      raw,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Source:    source,
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		c.config.Logger.Warn(ctx, "cache entry not serializable, skipping",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err.Error()})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(ctx, c.fullKey(key), encoded); err != nil {
		c.config.Logger.Warn(ctx, "cache write failed",
			observe.Field{Key: "key", Value: c.fullKey(key)},
			observe.Field{Key: "error", Value: err.Error()})
		return
	}

	c.cleanupLocked(ctx)
}

// Delete removes the entry for key. Idempotent.
func (c *TTLCache) Delete(ctx context.Context, key string) {
	c.deleteFull(ctx, c.fullKey(key))
}

// Clear removes all entries under this cache's prefix.
func (c *TTLCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx, c.config.Prefix+"_")
	if err != nil {
		c.config.Logger.Warn(ctx, "cache clear scan failed",
			observe.Field{Key: "prefix", Value: c.config.Prefix},
			observe.Field{Key: "error", Value: err.Error()})
		return
	}
	for _, k := range keys {
		c.deleteFull(ctx, k)
	}
}

// Len returns the number of unexpired entries under this cache's prefix.
func (c *TTLCache) Len(ctx context.Context) int {
	keys, err := c.store.Keys(ctx, c.config.Prefix+"_")
	if err != nil {
		return 0
	}

	now := c.config.Now()
	count := 0
	for _, k := range keys {
		raw, ok, err := c.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if !entry.Expired(now) {
			count++
		}
	}
	return count
}

func (c *TTLCache) fullKey(key string) string {
	return c.config.Prefix + "_" + key
}

func (c *TTLCache) deleteFull(ctx context.Context, full string) {
	if err := c.store.Delete(ctx, full); err != nil {
		c.config.Logger.Warn(ctx, "cache delete failed",
			observe.Field{Key: "key", Value: full},
			observe.Field{Key: "error", Value: err.Error()})
	}
}

// cleanupLocked purges expired entries under the prefix, then evicts the
// oldest-created entries until the count is at or under MaxEntries.
// Caller must hold c.mu.
func (c *TTLCache) cleanupLocked(ctx context.Context) {
	keys, err := c.store.Keys(ctx, c.config.Prefix+"_")
	if err != nil {
		c.config.Logger.Warn(ctx, "cache cleanup scan failed",
			observe.Field{Key: "prefix", Value: c.config.Prefix},
			observe.Field{Key: "error", Value: err.Error()})
		return
	}

	type aged struct {
		key     string
		created time.Time
	}

	now := c.config.Now()
	live := make([]aged, 0, len(keys))

	for _, k := range keys {
		raw, ok, err := c.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			c.deleteFull(ctx, k)
			continue
		}
		if entry.Expired(now) {
			c.deleteFull(ctx, k)
			continue
		}
		live = append(live, aged{key: k, created: entry.CreatedAt})
	}

	excess := len(live) - c.config.MaxEntries
	if excess <= 0 {
		return
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].created.Before(live[j].created)
	})
	for _, victim := range live[:excess] {
		c.deleteFull(ctx, victim.key)
	}
}
