package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/inboxd/internal/channels"
	"github.com/nextlevelbuilder/inboxd/internal/channels/discord"
	"github.com/nextlevelbuilder/inboxd/internal/channels/telegram"
	"github.com/nextlevelbuilder/inboxd/internal/channels/webhook"
	"github.com/nextlevelbuilder/inboxd/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/inboxd/internal/config"
	"github.com/nextlevelbuilder/inboxd/internal/store"
	"github.com/nextlevelbuilder/inboxd/internal/store/pg"
	"github.com/nextlevelbuilder/inboxd/internal/store/sqlite"
)

// configWriter is the part of store.ConfigStore that seeding needs.
type configWriter interface {
	UpsertTenant(ctx context.Context, t *store.Tenant) error
	UpsertChannelConfig(ctx context.Context, c *store.ChannelConfig) error
}

// openStores opens the backend selected by database.mode.
func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.IsManagedMode() {
		stores, err := pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
		if err != nil {
			return nil, fmt.Errorf("managed mode: %w", err)
		}
		slog.Info("storage: postgres (managed mode)")
		return stores, nil
	}

	path := cfg.SQLitePath()
	stores, err := sqlite.NewSQLiteStores(store.StoreConfig{SQLitePath: path})
	if err != nil {
		return nil, fmt.Errorf("standalone mode: %w", err)
	}
	slog.Info("storage: sqlite (standalone mode)", "path", path)
	return stores, nil
}

// seedStores upserts the tenants and channel configs declared in the config
// file. Tenants go first so channel configs can reference them.
func seedStores(ctx context.Context, configs configWriter, seed config.SeedConfig) error {
	var errs []error
	for _, t := range seed.Tenants {
		if err := configs.UpsertTenant(ctx, &store.Tenant{
			ID:             t.ID,
			Name:           t.Name,
			Locale:         t.Locale,
			FailureMessage: t.FailureMessage,
		}); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", t.ID, err))
		}
	}
	for _, c := range seed.Channels {
		if err := configs.UpsertChannelConfig(ctx, &store.ChannelConfig{
			ID:           c.ID,
			TenantID:     c.TenantID,
			ChannelType:  c.ChannelType,
			DisplayName:  c.DisplayName,
			SystemPrompt: c.SystemPrompt,
			AllowFrom:    []string(c.AllowFrom),
			Enabled:      c.IsEnabled(),
		}); err != nil {
			errs = append(errs, fmt.Errorf("channel config %s: %w", c.ID, err))
		}
	}
	if len(seed.Tenants)+len(seed.Channels) > 0 {
		slog.Info("seeded config", "tenants", len(seed.Tenants), "channel_configs", len(seed.Channels))
	}
	return errors.Join(errs...)
}

func registerChannelFactories(loader *channels.InstanceLoader) {
	loader.RegisterFactory(channels.TypeWhatsApp, whatsapp.Factory)
	loader.RegisterFactory(channels.TypeTelegram, telegram.Factory)
	loader.RegisterFactory(channels.TypeDiscord, discord.Factory)
	loader.RegisterFactory(channels.TypeWebhook, webhook.Factory)
}

// instancesFromConfig flattens the enabled channel instances of every platform.
func instancesFromConfig(cfg config.ChannelsConfig) []channels.Instance {
	var out []channels.Instance
	for _, c := range cfg.WhatsApp {
		if c.Enabled {
			out = append(out, channels.Instance{Name: c.Name, Type: channels.TypeWhatsApp,
				TenantChannelID: c.TenantChannelID, BridgeURL: c.BridgeURL, AllowFrom: c.AllowFrom})
		}
	}
	for _, c := range cfg.Telegram {
		if c.Enabled {
			out = append(out, channels.Instance{Name: c.Name, Type: channels.TypeTelegram,
				TenantChannelID: c.TenantChannelID, Token: c.Token, AllowFrom: c.AllowFrom})
		}
	}
	for _, c := range cfg.Discord {
		if c.Enabled {
			out = append(out, channels.Instance{Name: c.Name, Type: channels.TypeDiscord,
				TenantChannelID: c.TenantChannelID, Token: c.Token, AllowFrom: c.AllowFrom})
		}
	}
	for _, c := range cfg.Webhook {
		if c.Enabled {
			out = append(out, channels.Instance{Name: c.Name, Type: channels.TypeWebhook,
				TenantChannelID: c.TenantChannelID, CallbackURL: c.CallbackURL, AllowFrom: c.AllowFrom})
		}
	}
	return out
}
