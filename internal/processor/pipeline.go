package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/cache"
	"github.com/nextlevelbuilder/inboxd/internal/responder"
	"github.com/nextlevelbuilder/inboxd/internal/sessions"
	"github.com/nextlevelbuilder/inboxd/internal/store"
)

// DefaultHistoryLimit is how many prior rows the responder sees.
const DefaultHistoryLimit = 20

// Deliverer sends replies and fires best-effort receipts.
// MarkRead and React must not block: implementations detach them.
type Deliverer interface {
	Deliver(ctx context.Context, channel, recipient, text string) error
	MarkRead(env bus.Envelope)
	React(env bus.Envelope, emoji string)
}

// PipelineDeps are the collaborators of the default pipeline.
type PipelineDeps struct {
	Cache        *cache.Cache
	Configs      store.ConfigStore
	Messages     store.MessageStore
	Responder    responder.Responder
	Deliverer    Deliverer
	HistoryLimit int
	// AckReaction is reacted onto the inbound message when work starts. Empty disables it.
	AckReaction string
}

// NewPipeline builds the default pipeline:
// config lookup → history → persist inbound → respond → persist reply → deliver.
func NewPipeline(d PipelineDeps) Pipeline {
	if d.HistoryLimit <= 0 {
		d.HistoryLimit = DefaultHistoryLimit
	}

	return func(ctx context.Context, env bus.Envelope) error {
		channelCfg, err := LoadChannelConfig(ctx, d.Cache, d.Configs, env.TenantChannelID)
		if err != nil {
			return fmt.Errorf("load channel config: %w", err)
		}
		tenant, err := LoadTenant(ctx, d.Cache, d.Configs, channelCfg.TenantID)
		if err != nil {
			return fmt.Errorf("load tenant: %w", err)
		}

		key := sessions.ConversationKey(env)

		history, err := d.Messages.ListConversation(ctx, key, d.HistoryLimit)
		if err != nil {
			// History only improves the reply; carry on without it.
			slog.Warn("pipeline: history unavailable", "conversation", key, "error", err)
			history = nil
		}

		if _, err := d.Messages.InsertMessage(ctx, &store.MessageRow{
			ExternalID:      env.ExternalID,
			Channel:         env.Channel,
			TenantChannelID: env.TenantChannelID,
			ConversationKey: key,
			Direction:       store.DirectionInbound,
			Sender:          env.SenderAddress,
			Recipient:       env.RecipientAddress,
			Type:            env.Type,
			Content:         env.ContentRef,
			CreatedAt:       env.ArrivalTime,
		}); err != nil {
			return fmt.Errorf("persist inbound %s: %w", env.ExternalID, err)
		}

		if d.Deliverer != nil {
			d.Deliverer.MarkRead(env)
			if d.AckReaction != "" {
				d.Deliverer.React(env, d.AckReaction)
			}
		}

		if !channelCfg.Enabled {
			slog.Info("pipeline: channel disabled, not replying",
				"tenant_channel_id", env.TenantChannelID, "external_id", env.ExternalID)
			return nil
		}

		reply, err := d.Responder.Respond(ctx, env, responder.Context{
			Channel: channelCfg,
			Tenant:  tenant,
			History: history,
		})
		if err != nil {
			return fmt.Errorf("respond: %w", err)
		}
		reply = strings.TrimSpace(reply)
		if reply == "" {
			slog.Info("pipeline: empty reply suppressed", "external_id", env.ExternalID)
			return nil
		}

		if _, err := d.Messages.InsertMessage(ctx, &store.MessageRow{
			ReplyTo:         env.ExternalID,
			Channel:         env.Channel,
			TenantChannelID: env.TenantChannelID,
			ConversationKey: key,
			Direction:       store.DirectionOutbound,
			Sender:          env.RecipientAddress,
			Recipient:       env.SenderAddress,
			Type:            bus.TypeText,
			Content:         reply,
		}); err != nil {
			return fmt.Errorf("persist reply to %s: %w", env.ExternalID, err)
		}

		if d.Deliverer == nil {
			return nil
		}
		// Delivery is best-effort: the reply is already on record.
		if err := d.Deliverer.Deliver(ctx, env.Channel, env.SenderAddress, reply); err != nil {
			slog.Warn("pipeline: reply delivery failed",
				"external_id", env.ExternalID, "channel", env.Channel, "error", err)
		}
		return nil
	}
}

// LoadChannelConfig reads a channel config through the cache. A channel with no
// stored config gets an enabled default, which is cached like any other value.
func LoadChannelConfig(ctx context.Context, c *cache.Cache, configs store.ConfigStore, id string) (*store.ChannelConfig, error) {
	return cache.Load(ctx, c, bus.CacheKindChannelConfig, id, func(ctx context.Context) (*store.ChannelConfig, error) {
		cfg, err := configs.GetChannelConfig(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return &store.ChannelConfig{ID: id, Enabled: true}, nil
		}
		return cfg, err
	})
}

// LoadTenant reads a tenant through the cache. Returns nil for an empty id or an unknown tenant.
func LoadTenant(ctx context.Context, c *cache.Cache, configs store.ConfigStore, id string) (*store.Tenant, error) {
	if id == "" {
		return nil, nil
	}
	t, err := cache.Load(ctx, c, bus.CacheKindTenant, id, func(ctx context.Context) (*store.Tenant, error) {
		t, err := configs.GetTenant(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return &store.Tenant{ID: id}, nil
		}
		return t, err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// FailureMessageResolver returns the tenant's failure text for env, or "" to use the default.
func FailureMessageResolver(c *cache.Cache, configs store.ConfigStore) func(ctx context.Context, env bus.Envelope) string {
	return func(ctx context.Context, env bus.Envelope) string {
		channelCfg, err := LoadChannelConfig(ctx, c, configs, env.TenantChannelID)
		if err != nil {
			return ""
		}
		tenant, err := LoadTenant(ctx, c, configs, channelCfg.TenantID)
		if err != nil || tenant == nil {
			return ""
		}
		return tenant.FailureMessage
	}
}
