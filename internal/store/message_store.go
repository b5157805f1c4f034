package store

import (
	"context"
	"time"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// MessageRow is the durable record of an inbound envelope or an outbound reply.
// Inbound rows carry the envelope's ExternalID (unique). Outbound rows leave it
// empty and point at the inbound row through ReplyTo.
type MessageRow struct {
	ID              string    `json:"id"`
	ExternalID      string    `json:"external_id,omitempty"`
	ReplyTo         string    `json:"reply_to,omitempty"`
	Channel         string    `json:"channel"`
	TenantChannelID string    `json:"tenant_channel_id"`
	ConversationKey string    `json:"conversation_key"`
	Direction       string    `json:"direction"`
	Sender          string    `json:"sender"`
	Recipient       string    `json:"recipient"`
	Type            string    `json:"type"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
}

// MessageStore persists message rows.
type MessageStore interface {
	// InsertMessage stores row and returns its id. Returns ErrDuplicateExternalID
	// when row.ExternalID is non-empty and already stored.
	InsertMessage(ctx context.Context, row *MessageRow) (string, error)

	// ExistsExternalID reports whether an inbound row with externalID exists.
	ExistsExternalID(ctx context.Context, externalID string) (bool, error)

	// ListConversation returns the newest limit rows of a conversation, oldest first.
	ListConversation(ctx context.Context, conversationKey string, limit int) ([]MessageRow, error)
}
