package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/store"
)

// PGErrorStore implements store.ErrorStore backed by Postgres.
type PGErrorStore struct {
	db *sql.DB
}

func NewPGErrorStore(db *sql.DB) *PGErrorStore {
	return &PGErrorStore{db: db}
}

func (s *PGErrorStore) UpsertError(ctx context.Context, externalID, message, detail string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_errors (external_id, message, detail, retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, 0, $4, $4)
		 ON CONFLICT (external_id) DO UPDATE SET
		   message = EXCLUDED.message,
		   detail = EXCLUDED.detail,
		   retry_count = pipeline_errors.retry_count + 1,
		   updated_at = EXCLUDED.updated_at`,
		externalID, message, detail, now,
	)
	if err != nil {
		return fmt.Errorf("upsert pipeline error: %w", err)
	}
	return nil
}

func (s *PGErrorStore) GetError(ctx context.Context, externalID string) (*store.ErrorRecord, error) {
	var r store.ErrorRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT external_id, message, detail, retry_count, created_at, updated_at
		 FROM pipeline_errors WHERE external_id = $1`, externalID,
	).Scan(&r.ExternalID, &r.Message, &r.Detail, &r.RetryCount, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline error: %w", err)
	}
	return &r, nil
}

func (s *PGErrorStore) ListErrors(ctx context.Context, limit int) ([]store.ErrorRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id, message, detail, retry_count, created_at, updated_at
		 FROM pipeline_errors ORDER BY updated_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pipeline errors: %w", err)
	}
	defer rows.Close()

	var result []store.ErrorRecord
	for rows.Next() {
		var r store.ErrorRecord
		if err := rows.Scan(&r.ExternalID, &r.Message, &r.Detail, &r.RetryCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline error: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PGErrorStore) PurgeErrorsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_errors WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge pipeline errors: %w", err)
	}
	return res.RowsAffected()
}
