package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/inboxd/internal/store"
)

// PGConfigStore implements store.ConfigStore backed by Postgres.
type PGConfigStore struct {
	db *sql.DB
}

func NewPGConfigStore(db *sql.DB) *PGConfigStore {
	return &PGConfigStore{db: db}
}

const channelConfigColumns = `id, tenant_id, channel_type, display_name, system_prompt, allow_from, enabled, updated_at`

func scanChannelConfig(scan func(dest ...any) error) (*store.ChannelConfig, error) {
	var c store.ChannelConfig
	if err := scan(&c.ID, &c.TenantID, &c.ChannelType, &c.DisplayName, &c.SystemPrompt,
		pq.Array(&c.AllowFrom), &c.Enabled, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PGConfigStore) GetChannelConfig(ctx context.Context, id string) (*store.ChannelConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelConfigColumns+` FROM channel_configs WHERE id = $1`, id)
	c, err := scanChannelConfig(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel config %s: %w", id, err)
	}
	return c, nil
}

func (s *PGConfigStore) ListChannelConfigs(ctx context.Context) ([]store.ChannelConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelConfigColumns+` FROM channel_configs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list channel configs: %w", err)
	}
	defer rows.Close()

	var result []store.ChannelConfig
	for rows.Next() {
		c, err := scanChannelConfig(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan channel config: %w", err)
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (s *PGConfigStore) UpsertChannelConfig(ctx context.Context, c *store.ChannelConfig) error {
	c.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_configs (`+channelConfigColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   tenant_id = EXCLUDED.tenant_id,
		   channel_type = EXCLUDED.channel_type,
		   display_name = EXCLUDED.display_name,
		   system_prompt = EXCLUDED.system_prompt,
		   allow_from = EXCLUDED.allow_from,
		   enabled = EXCLUDED.enabled,
		   updated_at = EXCLUDED.updated_at`,
		c.ID, c.TenantID, c.ChannelType, c.DisplayName, c.SystemPrompt, pq.Array(c.AllowFrom), c.Enabled, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert channel config %s: %w", c.ID, err)
	}
	return nil
}

func (s *PGConfigStore) GetTenant(ctx context.Context, id string) (*store.Tenant, error) {
	var t store.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, locale, failure_message, updated_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Locale, &t.FailureMessage, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	return &t, nil
}

func (s *PGConfigStore) UpsertTenant(ctx context.Context, t *store.Tenant) error {
	t.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, locale, failure_message, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   locale = EXCLUDED.locale,
		   failure_message = EXCLUDED.failure_message,
		   updated_at = EXCLUDED.updated_at`,
		t.ID, t.Name, t.Locale, t.FailureMessage, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert tenant %s: %w", t.ID, err)
	}
	return nil
}
