// Package dedupe decides whether an inbound event id has already been accepted.
//
// Two layers are consulted: the in-memory acceptance markers (ids currently
// processing or settled within the marker ttl) and the durable message store,
// which survives restarts. The durable check fails open: a storage error is
// treated as "not a duplicate", because the store's unique constraint on
// external_id still rejects a second insert downstream.
package dedupe

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
)

// DurableChecker is the durable half of duplicate detection.
// store.MessageStore satisfies it.
type DurableChecker interface {
	ExistsExternalID(ctx context.Context, externalID string) (bool, error)
}

// Filter combines the acceptance markers with the durable store.
type Filter struct {
	markers *bus.DedupeCache
	durable DurableChecker
	timeout time.Duration
}

// NewFilter creates a Filter. durable may be nil (markers only).
func NewFilter(markers *bus.DedupeCache, durable DurableChecker) *Filter {
	return &Filter{
		markers: markers,
		durable: durable,
		timeout: 5 * time.Second,
	}
}

// IsDuplicate reports whether id was already accepted, in memory or durably.
func (f *Filter) IsDuplicate(ctx context.Context, id string) bool {
	return f.Seen(id) || f.Stored(ctx, id)
}

// Seen reports whether a live acceptance marker exists for id. It never blocks on I/O.
func (f *Filter) Seen(id string) bool {
	return f.markers.Contains(id)
}

// Stored reports whether the durable store already holds id. Storage errors fail open.
func (f *Filter) Stored(ctx context.Context, id string) bool {
	if f.durable == nil {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	exists, err := f.durable.ExistsExternalID(checkCtx, id)
	if err != nil {
		slog.Warn("dedupe: durable check failed, treating as new", "external_id", id, "error", err)
		return false
	}
	return exists
}

// MarkAccepted claims id for processing. It returns false when another
// submission already holds a live marker for the same id; callers must then
// treat the event as a duplicate. The returned marker is passed to MarkSettled.
func (f *Filter) MarkAccepted(id string) (bus.Marker, bool) {
	return f.markers.Claim(id)
}

// MarkSettled releases the claim once its pipeline has finished, successfully
// or not. A claim that outlived its ttl and was taken over is left alone.
func (f *Filter) MarkSettled(m bus.Marker) {
	if !f.markers.Release(m) {
		slog.Debug("dedupe: marker already superseded", "external_id", m.ID)
	}
}

// Processing returns the number of ids currently holding a marker.
func (f *Filter) Processing() int {
	return f.markers.Len()
}
