package protocol

import (
	"github.com/nextlevelbuilder/inboxd/internal/cache"
	"github.com/nextlevelbuilder/inboxd/internal/processor"
)

// ProtocolVersion is bumped on incompatible changes to the HTTP API payloads.
const ProtocolVersion = 1

// Internal event names broadcast on the message bus.
const (
	// EventCacheInvalidate carries a bus.CacheInvalidatePayload.
	EventCacheInvalidate = "cache.invalidate"

	// EventConfigReloaded fires after the config file was re-read and re-seeded.
	EventConfigReloaded = "config.reloaded"
)

// StatsSnapshot is the body of GET /v1/stats.
type StatsSnapshot struct {
	Version   string                   `json:"version"`
	Protocol  int                      `json:"protocol"`
	Cache     cache.Stats              `json:"cache"`
	Processor processor.Stats          `json:"processor"`
	Channels  map[string]ChannelStatus `json:"channels,omitempty"`
}

// ChannelStatus reports one registered channel instance.
type ChannelStatus struct {
	Running bool `json:"running"`
}

// WebhookMessage is the JSON body accepted by POST /v1/webhook/{channel}.
type WebhookMessage struct {
	ID              string            `json:"id"`
	TenantChannelID string            `json:"tenant_channel_id,omitempty"`
	From            string            `json:"from"`
	To              string            `json:"to,omitempty"`
	Type            string            `json:"type,omitempty"`
	Content         string            `json:"content"`
	Timestamp       int64             `json:"timestamp,omitempty"` // unix seconds
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// WebhookAck is the response to a webhook submission. The request is always
// acknowledged; Accepted reports whether it was queued for processing.
type WebhookAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}
