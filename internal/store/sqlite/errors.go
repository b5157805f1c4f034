package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/store"
)

// ErrorStore implements store.ErrorStore on SQLite.
type ErrorStore struct {
	db *sql.DB
}

func NewErrorStore(db *sql.DB) *ErrorStore {
	return &ErrorStore{db: db}
}

func (s *ErrorStore) UpsertError(ctx context.Context, externalID, message, detail string) error {
	now := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_errors (external_id, message, detail, retry_count, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)
		 ON CONFLICT (external_id) DO UPDATE SET
		   message = excluded.message,
		   detail = excluded.detail,
		   retry_count = pipeline_errors.retry_count + 1,
		   updated_at = excluded.updated_at`,
		externalID, message, detail, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert pipeline error: %w", err)
	}
	return nil
}

func scanErrorRecord(scan func(dest ...any) error) (*store.ErrorRecord, error) {
	var (
		r                    store.ErrorRecord
		createdAt, updatedAt int64
	)
	if err := scan(&r.ExternalID, &r.Message, &r.Detail, &r.RetryCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

func (s *ErrorStore) GetError(ctx context.Context, externalID string) (*store.ErrorRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT external_id, message, detail, retry_count, created_at, updated_at
		 FROM pipeline_errors WHERE external_id = ?`, externalID)
	r, err := scanErrorRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline error: %w", err)
	}
	return r, nil
}

func (s *ErrorStore) ListErrors(ctx context.Context, limit int) ([]store.ErrorRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id, message, detail, retry_count, created_at, updated_at
		 FROM pipeline_errors ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pipeline errors: %w", err)
	}
	defer rows.Close()

	var result []store.ErrorRecord
	for rows.Next() {
		r, err := scanErrorRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline error: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (s *ErrorStore) PurgeErrorsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pipeline_errors WHERE updated_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge pipeline errors: %w", err)
	}
	return res.RowsAffected()
}
