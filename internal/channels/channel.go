// Package channels connects chat platforms (WhatsApp bridge, Telegram, Discord,
// HTTP webhooks) to the inbound bus and carries replies back out.
//
// Each channel instance is bound to one tenant channel. Inbound platform events
// are normalized into bus.Envelope values; outbound replies and receipts are
// routed by instance name through the Manager.
package channels

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel instance name (e.g. "whatsapp", "support-bot").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers a text reply to recipient (phone number, chat id, channel id).
	Send(ctx context.Context, recipient, text string) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// ReceiptChannel is implemented by channels that can acknowledge an inbound
// message on the platform. Both calls are best-effort.
type ReceiptChannel interface {
	Channel
	MarkRead(ctx context.Context, env bus.Envelope) error
	React(ctx context.Context, env bus.Envelope, emoji string) error
}

// Metadata keys channels set on envelopes for their own receipts.
const (
	MetaChatID    = "chat_id"    // platform chat/conversation id when it differs from the sender
	MetaMessageID = "message_id" // platform-native message id when it differs from ExternalID
	MetaUserID    = "user_id"    // allowlist subject when the sender address is a chat, not a person
	MetaUserName  = "user_name"
)

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name            string
	tenantChannelID string
	bus             bus.InboundRouter
	running         atomic.Bool

	mu        sync.RWMutex
	allowList []string
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name, tenantChannelID string, router bus.InboundRouter, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:            name,
		tenantChannelID: tenantChannelID,
		bus:             router,
		allowList:       allowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// SetName overrides the channel name (used by InstanceLoader for named instances).
func (c *BaseChannel) SetName(name string) { c.name = name }

// TenantChannelID returns the tenant channel this instance serves.
func (c *BaseChannel) TenantChannelID() string { return c.tenantChannelID }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// SetAllowList replaces the allowlist. Used when channel configs change in the store.
func (c *BaseChannel) SetAllowList(list []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowList = append([]string(nil), list...)
}

// HasAllowList returns true if an allowlist is configured (non-empty).
func (c *BaseChannel) HasAllowList() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.allowList) > 0
}

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.allowList) == 0 {
		return true
	}

	// Extract parts from compound senderID like "123456|username"
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		// "@name" and "+number" forms match the bare value too.
		trimmed := strings.TrimLeft(allowed, "@+")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}
		bareID := strings.TrimPrefix(idPart, "+")

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			bareID == trimmed ||
			bareID == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// HandleEnvelope fills the instance-level fields of env, applies the allowlist
// and publishes it to the bus. This is the standard way for channels to
// forward received messages. Returns false when the sender was rejected.
func (c *BaseChannel) HandleEnvelope(env bus.Envelope) bool {
	subject := env.SenderAddress
	if uid := env.Meta(MetaUserID); uid != "" {
		subject = uid
	}
	if !c.IsAllowed(subject) {
		slog.Debug("channel: sender rejected by allowlist",
			"channel", c.name, "sender", subject)
		return false
	}

	env.Channel = c.name
	// A bound instance always wins over whatever the payload claimed.
	if c.tenantChannelID != "" || env.TenantChannelID == "" {
		env.TenantChannelID = c.tenantChannelID
	}
	if env.RecipientAddress == "" {
		env.RecipientAddress = c.tenantChannelID
	}
	if env.Type == "" {
		env.Type = bus.TypeText
	}
	if env.ArrivalTime.IsZero() {
		env.ArrivalTime = time.Now()
	}

	c.bus.PublishInbound(env)
	return true
}

// Truncate shortens a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
