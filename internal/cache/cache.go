// Package cache provides a time-bounded, namespaced cache for slow-changing
// configuration records (channel configs, tenants).
//
// Entries are evicted lazily when read after their ttl and proactively by a
// low-frequency sweeper. Loader failures are never cached: the next read retries.
// The cache has no subscription to writes; whoever mutates the source of truth
// must call Invalidate.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL applies to namespaces without an explicit ttl.
const DefaultTTL = 5 * time.Minute

// Loader fetches the value for a missing or expired entry.
type Loader func(ctx context.Context) (any, error)

type entry struct {
	value    any
	loadedAt time.Time
	ttl      time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.loadedAt.Add(e.ttl))
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Errors       int64 `json:"errors"`
	LiveKeyCount int   `json:"live_key_count"`
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithNamespaceTTL overrides the ttl for one namespace.
func WithNamespaceTTL(ns string, ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.nsTTL[ns] = ttl
		}
	}
}

// Cache is safe for concurrent use.
type Cache struct {
	ttl   time.Duration
	nsTTL map[string]time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	// gens is bumped on invalidation so an in-flight load that started before
	// the invalidation does not resurrect the old value.
	gens map[string]uint64

	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// New creates a Cache whose entries live for ttl unless overridden per namespace.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		nsTTL:   make(map[string]time.Duration),
		now:     time.Now,
		entries: make(map[string]*entry),
		gens:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func entryKey(ns, key string) string {
	return ns + "\x00" + key
}

func (c *Cache) ttlFor(ns string) time.Duration {
	if ttl, ok := c.nsTTL[ns]; ok {
		return ttl
	}
	return c.ttl
}

// GetOrLoad returns the cached value for (ns, key), calling loader on a miss or
// after expiry. Concurrent misses for the same entry share one loader call.
// Loader errors are returned to every waiting caller and nothing is stored.
func (c *Cache) GetOrLoad(ctx context.Context, ns, key string, loader Loader) (any, error) {
	k := entryKey(ns, key)

	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		if !e.expired(c.now()) {
			c.mu.Unlock()
			c.hits.Add(1)
			return e.value, nil
		}
		delete(c.entries, k)
	}
	gen := c.gens[k]
	c.mu.Unlock()

	c.misses.Add(1)

	v, err, _ := c.group.Do(k, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			c.errors.Add(1)
			return nil, err
		}

		c.mu.Lock()
		if c.gens[k] == gen {
			c.entries[k] = &entry{value: value, loadedAt: c.now(), ttl: c.ttlFor(ns)}
		}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache load %s/%s: %w", ns, key, err)
	}
	return v, nil
}

// Load is the typed form of GetOrLoad.
func Load[T any](ctx context.Context, c *Cache, ns, key string, loader func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.GetOrLoad(ctx, ns, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache %s/%s: unexpected value type %T", ns, key, v)
	}
	return typed, nil
}

// Invalidate removes (ns, key); the next GetOrLoad always calls its loader.
func (c *Cache) Invalidate(ns, key string) {
	k := entryKey(ns, key)

	c.mu.Lock()
	delete(c.entries, k)
	c.gens[k]++
	c.mu.Unlock()

	c.group.Forget(k)
}

// InvalidateNamespace removes every entry in ns.
func (c *Cache) InvalidateNamespace(ns string) {
	prefix := ns + "\x00"

	c.mu.Lock()
	var keys []string
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	for k := range c.gens {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		delete(c.entries, k)
		c.gens[k]++
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.group.Forget(k)
	}
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					slog.Debug("cache: swept expired entries", "count", n)
				}
			}
		}
	}()
}

// Stats returns the current counters and the number of unexpired entries.
func (c *Cache) Stats() Stats {
	now := c.now()

	c.mu.Lock()
	live := 0
	for _, e := range c.entries {
		if !e.expired(now) {
			live++
		}
	}
	c.mu.Unlock()

	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Errors:       c.errors.Load(),
		LiveKeyCount: live,
	}
}
