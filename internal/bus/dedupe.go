package bus

import (
	"sync"
	"time"
)

// Marker records that an id was accepted for processing.
type Marker struct {
	ID         string
	Seq        uint64 // distinguishes successive claims of the same id
	AcceptedAt time.Time
	ExpiresAt  time.Time
}

// DedupeCache is a bounded, TTL-limited set of acceptance markers.
// A marker present and unexpired means "currently processing or recently processed".
// Expiry is a safety valve for pipelines that never settle; the normal path
// removes markers explicitly via Remove.
// Safe for concurrent use.
type DedupeCache struct {
	ttl time.Duration
	max int
	now func() time.Time

	mu      sync.Mutex
	entries map[string]Marker
	seq     uint64
}

// NewDedupeCache creates a marker set with the given lifetime and hard cap on tracked ids.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return NewDedupeCacheWithClock(ttl, max, time.Now)
}

// NewDedupeCacheWithClock is NewDedupeCache with an injectable clock.
func NewDedupeCacheWithClock(ttl time.Duration, max int, now func() time.Time) *DedupeCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if max <= 0 {
		max = 5000
	}
	if now == nil {
		now = time.Now
	}
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		now:     now,
		entries: make(map[string]Marker),
	}
}

// Contains reports whether a live marker exists for id.
// Expired markers are dropped on the way.
func (d *DedupeCache) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.entries[id]
	if !ok {
		return false
	}
	if d.now().After(m.ExpiresAt) {
		delete(d.entries, id)
		return false
	}
	return true
}

// TryAdd inserts a marker for id unless a live one already exists.
// Returns true when this call created the marker.
func (d *DedupeCache) TryAdd(id string) bool {
	_, ok := d.Claim(id)
	return ok
}

// Claim is TryAdd returning the created marker, which Release needs.
func (d *DedupeCache) Claim(id string) (Marker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if m, ok := d.entries[id]; ok && !now.After(m.ExpiresAt) {
		return Marker{}, false
	}

	if len(d.entries) >= d.max {
		d.pruneLocked(now)
		// Hard eviction of the oldest marker if still at cap.
		for len(d.entries) >= d.max {
			d.evictOldestLocked()
		}
	}

	d.seq++
	m := Marker{ID: id, Seq: d.seq, AcceptedAt: now, ExpiresAt: now.Add(d.ttl)}
	d.entries[id] = m
	return m, true
}

// Remove deletes the marker for id, if any.
func (d *DedupeCache) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
}

// Release deletes m only if it is still the marker held for its id. A claim
// that expired and was re-claimed leaves the newer marker in place.
func (d *DedupeCache) Release(m Marker) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.entries[m.ID]
	if !ok || cur.Seq != m.Seq {
		return false
	}
	delete(d.entries, m.ID)
	return true
}

// Get returns the live marker for id.
func (d *DedupeCache) Get(id string) (Marker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.entries[id]
	if !ok || d.now().After(m.ExpiresAt) {
		return Marker{}, false
	}
	return m, true
}

// Len returns the number of live markers.
func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(d.now())
	return len(d.entries)
}

// Prune drops expired markers and returns how many were removed.
func (d *DedupeCache) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pruneLocked(d.now())
}

func (d *DedupeCache) pruneLocked(now time.Time) int {
	removed := 0
	for id, m := range d.entries {
		if now.After(m.ExpiresAt) {
			delete(d.entries, id)
			removed++
		}
	}
	return removed
}

func (d *DedupeCache) evictOldestLocked() {
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, m := range d.entries {
		if oldestID == "" || m.AcceptedAt.Before(oldestAt) {
			oldestID, oldestAt = id, m.AcceptedAt
		}
	}
	delete(d.entries, oldestID)
}
