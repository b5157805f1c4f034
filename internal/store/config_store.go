package store

import (
	"context"
	"time"
)

// Tenant owns one or more channels.
type Tenant struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Locale         string    `json:"locale,omitempty"`
	FailureMessage string    `json:"failure_message,omitempty"` // sent to users when processing fails
	UpdatedAt      time.Time `json:"updated_at"`
}

// ChannelConfig is the per-tenant-channel configuration consulted on every message.
type ChannelConfig struct {
	ID           string    `json:"id"` // tenant_channel_id
	TenantID     string    `json:"tenant_id"`
	ChannelType  string    `json:"channel_type"` // "whatsapp", "telegram", "discord", "webhook"
	DisplayName  string    `json:"display_name,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	AllowFrom    []string  `json:"allow_from,omitempty"`
	Enabled      bool      `json:"enabled"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConfigStore reads and writes tenants and channel configs.
// Reads are fronted by the config cache; writers must invalidate it.
type ConfigStore interface {
	GetChannelConfig(ctx context.Context, id string) (*ChannelConfig, error)
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	ListChannelConfigs(ctx context.Context) ([]ChannelConfig, error)
	UpsertChannelConfig(ctx context.Context, cfg *ChannelConfig) error
	UpsertTenant(ctx context.Context, t *Tenant) error
}
