package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
	// memory exhaustion from attackers rotating source IPs/keys.
	maxTrackedKeys = 4096

	// staleAfter is how long an idle key is kept before it may be pruned.
	staleAfter = 2 * time.Minute
)

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WebhookRateLimiter is a per-key token bucket with a bounded key table.
// Safe for concurrent use.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewWebhookRateLimiter allows perMinute requests per key with a burst of the
// same size. perMinute <= 0 disables limiting.
func NewWebhookRateLimiter(perMinute int) *WebhookRateLimiter {
	r := &WebhookRateLimiter{
		entries: make(map[string]*rateLimitEntry),
		limit:   rate.Inf,
		burst:   1,
		now:     time.Now,
	}
	if perMinute > 0 {
		r.limit = rate.Limit(float64(perMinute) / 60)
		r.burst = perMinute
	}
	return r
}

// Allow returns true if the key is within rate limits.
// Automatically prunes stale entries and enforces a hard cap on tracked keys.
func (r *WebhookRateLimiter) Allow(key string) bool {
	if r.limit == rate.Inf {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	// Prune stale entries when approaching the cap
	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) >= staleAfter {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok {
		e = &rateLimitEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (r *WebhookRateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
