package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/store"
	"github.com/nextlevelbuilder/inboxd/internal/upgrade"
)

// NewPGStores creates all stores backed by Postgres (managed mode).
// The schema is owned by `inboxd migrate`; an incompatible schema version is
// refused here so the gateway never runs against the wrong tables.
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := upgrade.CheckSchema(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema: %w", err)
	}
	if !status.Compatible {
		db.Close()
		return nil, errors.New(upgrade.FormatError(status))
	}

	return store.NewStores(
		NewPGMessageStore(db),
		NewPGErrorStore(db),
		NewPGConfigStore(db),
		db.Close,
	), nil
}
