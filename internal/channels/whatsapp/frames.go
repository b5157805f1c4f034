package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
)

// Bridge frame types.
const (
	frameMessage = "message"
	frameRead    = "read"
	frameReact   = "react"
)

// inboundFrame is what the bridge sends for a received message:
//
//	{"type":"message","id":"wamid.X","from":"+15550100","to":"+15550199","chat":"...",
//	 "from_name":"Ada","kind":"text","content":"hi","media":["..."],"timestamp":1700000000}
type inboundFrame struct {
	Type      string   `json:"type"`
	ID        string   `json:"id"`
	From      string   `json:"from"`
	To        string   `json:"to,omitempty"`
	Chat      string   `json:"chat,omitempty"`
	FromName  string   `json:"from_name,omitempty"`
	Kind      string   `json:"kind,omitempty"` // text, image, audio, video, document, sticker
	Content   string   `json:"content,omitempty"`
	Media     []string `json:"media,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"` // unix seconds
}

// outboundFrame carries replies, read receipts and reactions to the bridge.
type outboundFrame struct {
	Type    string `json:"type"`
	To      string `json:"to,omitempty"`
	Content string `json:"content,omitempty"`
	Chat    string `json:"chat,omitempty"`
	ID      string `json:"id,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
}

// parseFrame decodes a bridge frame into an envelope. ok is false for frames
// that are not inbound messages (acks, presence, status).
func parseFrame(data []byte) (env bus.Envelope, ok bool, err error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return bus.Envelope{}, false, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type != frameMessage {
		return bus.Envelope{}, false, nil
	}
	if f.ID == "" || f.From == "" {
		return bus.Envelope{}, false, fmt.Errorf("message frame without id or from")
	}

	msgType := strings.ToLower(f.Kind)
	if msgType == "" {
		msgType = bus.TypeText
		if f.Content == "" && len(f.Media) > 0 {
			msgType = bus.TypeDocument
		}
	}
	content := f.Content
	if msgType != bus.TypeText && len(f.Media) > 0 {
		content = f.Media[0]
	}
	if content == "" {
		content = "[empty message]"
	}

	arrival := time.Now()
	if f.Timestamp > 0 {
		arrival = time.Unix(f.Timestamp, 0)
	}

	meta := map[string]string{}
	if f.Chat != "" && f.Chat != f.From {
		meta[channels.MetaChatID] = f.Chat
	}
	if f.FromName != "" {
		meta[channels.MetaUserName] = f.FromName
	}
	if f.Content != "" && msgType != bus.TypeText {
		meta["caption"] = f.Content
	}

	return bus.Envelope{
		ExternalID:       f.ID,
		SenderAddress:    f.From,
		RecipientAddress: f.To,
		Type:             msgType,
		ContentRef:       content,
		ArrivalTime:      arrival,
		Metadata:         meta,
	}, true, nil
}

func chatOf(env bus.Envelope) string {
	if chat := env.Meta(channels.MetaChatID); chat != "" {
		return chat
	}
	return env.SenderAddress
}

func messageIDOf(env bus.Envelope) string {
	if id := env.Meta(channels.MetaMessageID); id != "" {
		return id
	}
	return env.ExternalID
}
