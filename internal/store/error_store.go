package store

import (
	"context"
	"time"
)

// ErrorRecord is the durable trace of a failed pipeline run.
// RetryCount starts at 0 and grows by one on every further failure of the same id.
type ErrorRecord struct {
	ExternalID string    `json:"external_id"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrorStore persists pipeline failures.
type ErrorStore interface {
	// UpsertError inserts a record or, on conflict, increments retry_count and
	// replaces message/detail.
	UpsertError(ctx context.Context, externalID, message, detail string) error
	GetError(ctx context.Context, externalID string) (*ErrorRecord, error)
	// ListErrors returns the most recently updated records first.
	ListErrors(ctx context.Context, limit int) ([]ErrorRecord, error)
	// PurgeErrorsBefore deletes records last updated before cutoff.
	PurgeErrorsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
