package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/store"
)

// ConfigStore implements store.ConfigStore on SQLite. allow_from is stored as a JSON array.
type ConfigStore struct {
	db *sql.DB
}

func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

const channelConfigColumns = `id, tenant_id, channel_type, display_name, system_prompt, allow_from, enabled, updated_at`

func scanChannelConfig(scan func(dest ...any) error) (*store.ChannelConfig, error) {
	var (
		c         store.ChannelConfig
		allowJSON string
		enabled   int
		updatedAt int64
	)
	if err := scan(&c.ID, &c.TenantID, &c.ChannelType, &c.DisplayName, &c.SystemPrompt,
		&allowJSON, &enabled, &updatedAt); err != nil {
		return nil, err
	}
	if allowJSON != "" {
		if err := json.Unmarshal([]byte(allowJSON), &c.AllowFrom); err != nil {
			return nil, fmt.Errorf("decode allow_from: %w", err)
		}
	}
	c.Enabled = enabled == 1
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func (s *ConfigStore) GetChannelConfig(ctx context.Context, id string) (*store.ChannelConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelConfigColumns+` FROM channel_configs WHERE id = ?`, id)
	c, err := scanChannelConfig(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel config %s: %w", id, err)
	}
	return c, nil
}

func (s *ConfigStore) ListChannelConfigs(ctx context.Context) ([]store.ChannelConfig, error) {
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

func (s *ConfigStore) UpsertChannelConfig(ctx context.Context, c *store.ChannelConfig) error {
	c.UpdatedAt = time.Now()
	allow := c.AllowFrom
	if allow == nil {
		allow = []string{}
	}
	allowJSON, err := json.Marshal(allow)
	if err != nil {
		return fmt.Errorf("encode allow_from: %w", err)
	}
	enabled := 0
	if c.Enabled {
		enabled = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channel_configs (`+channelConfigColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   tenant_id = excluded.tenant_id,
		   channel_type = excluded.channel_type,
		   display_name = excluded.display_name,
		   system_prompt = excluded.system_prompt,
		   allow_from = excluded.allow_from,
		   enabled = excluded.enabled,
		   updated_at = excluded.updated_at`,
		c.ID, c.TenantID, c.ChannelType, c.DisplayName, c.SystemPrompt, string(allowJSON), enabled, toMillis(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert channel config %s: %w", c.ID, err)
	}
	return nil
}

func (s *ConfigStore) GetTenant(ctx context.Context, id string) (*store.Tenant, error) {
	var (
		t         store.Tenant
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, locale, failure_message, updated_at FROM tenants WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Locale, &t.FailureMessage, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

func (s *ConfigStore) UpsertTenant(ctx context.Context, t *store.Tenant) error {
	t.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, locale, failure_message, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   locale = excluded.locale,
		   failure_message = excluded.failure_message,
		   updated_at = excluded.updated_at`,
		t.ID, t.Name, t.Locale, t.FailureMessage, toMillis(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert tenant %s: %w", t.ID, err)
	}
	return nil
}
