package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateExternalID is returned by InsertMessage when a row with the same
	// external_id already exists. It is the durable backstop of duplicate detection.
	ErrDuplicateExternalID = errors.New("store: duplicate external_id")
)

// StoreConfig carries what the store factories need to open a backend.
type StoreConfig struct {
	PostgresDSN string
	SQLitePath  string
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Messages MessageStore
	Errors   ErrorStore
	Configs  ConfigStore

	closeFn func() error
}

// NewStores bundles the given stores; closeFn releases the shared connection.
func NewStores(messages MessageStore, errs ErrorStore, configs ConfigStore, closeFn func() error) *Stores {
	return &Stores{Messages: messages, Errors: errs, Configs: configs, closeFn: closeFn}
}

// Close releases the underlying database handle.
func (s *Stores) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// Pinger is implemented by message stores that can verify connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
