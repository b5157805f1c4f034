package bus

import (
	"context"
	"time"
)

// Envelope is the normalized form of one inbound chat event.
// Channels build it once at intake; everything downstream receives it by value.
type Envelope struct {
	ExternalID       string            `json:"external_id"`       // platform message id, unique per event
	Channel          string            `json:"channel"`           // channel instance name used to route the reply
	TenantChannelID  string            `json:"tenant_channel_id"` // tenant-owned channel (phone number id, bot id, ...)
	SenderAddress    string            `json:"sender_address"`
	RecipientAddress string            `json:"recipient_address"`
	Type             string            `json:"type"`        // "text", "image", "audio", ...
	ContentRef       string            `json:"content_ref"` // text body, or a media reference for non-text types
	ArrivalTime      time.Time         `json:"arrival_time"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Message types understood by the responder.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeAudio    = "audio"
	TypeVideo    = "video"
	TypeDocument = "document"
	TypeSticker  = "sticker"
)

// IsText reports whether the envelope carries plain text.
func (e Envelope) IsText() bool {
	return e.Type == "" || e.Type == TypeText
}

// Meta returns a metadata value or "" when absent.
func (e Envelope) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// Event represents a process-internal broadcast (cache invalidation, processor lifecycle).
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// Cache invalidation kind constants.
const (
	CacheKindChannelConfig = "channel_config"
	CacheKindTenant        = "tenant"
)

// CacheInvalidatePayload signals cache layers to evict stale entries.
// Used with protocol.EventCacheInvalidate events.
type CacheInvalidatePayload struct {
	Kind string `json:"kind"` // CacheKind* constants
	Key  string `json:"key"`  // tenant_channel_id, tenant id. Empty = invalidate all
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// InboundRouter abstracts the hand-off between channels and the processor.
type InboundRouter interface {
	PublishInbound(env Envelope)
	ConsumeInbound(ctx context.Context) (Envelope, bool)
}
