package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

// ChannelLookup finds a registered channel by instance name.
type ChannelLookup interface {
	GetChannel(name string) (channels.Channel, bool)
}

// envelopeAcceptor is implemented by channels that take envelopes over HTTP.
type envelopeAcceptor interface {
	Accept(env bus.Envelope) bool
	TenantChannelID() string
}

// WebhookHandler turns POST /v1/webhook/{channel} bodies into envelopes and
// hands them to the named webhook channel. Well-formed requests are always
// answered with 202; the body says whether the message was queued.
type WebhookHandler struct {
	channels ChannelLookup
	token    string
	limiter  *channels.WebhookRateLimiter
	maxBody  int64
}

// NewWebhookHandler creates a webhook intake handler. limiter may be nil.
func NewWebhookHandler(lookup ChannelLookup, token string, limiter *channels.WebhookRateLimiter, maxBody int64) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = maxJSONBody
	}
	return &WebhookHandler{channels: lookup, token: token, limiter: limiter, maxBody: maxBody}
}

// RegisterRoutes registers the webhook route on the given mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+protocol.RouteWebhook, requireToken(h.token, h.handleWebhook))
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow(remoteKey(r)) {
		slog.Warn("security.rate_limited", "route", "webhook", "remote", remoteKey(r))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	name := r.PathValue("channel")
	ch, ok := h.channels.GetChannel(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	acceptor, ok := ch.(envelopeAcceptor)
	if !ok {
		writeError(w, http.StatusNotFound, "channel does not accept webhooks")
		return
	}

	var msg protocol.WebhookMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&msg); err != nil {
		slog.Debug("webhook: malformed body dropped", "channel", name, "error", err)
		writeJSON(w, http.StatusAccepted, protocol.WebhookAck{Reason: "invalid body"})
		return
	}

	env, reason := envelopeFromWebhook(name, msg)
	if bound := acceptor.TenantChannelID(); reason == "" && bound != "" &&
		env.TenantChannelID != "" && env.TenantChannelID != bound {
		slog.Warn("security.webhook_tenant_mismatch", "channel", name,
			"bound", bound, "requested", env.TenantChannelID, "remote", remoteKey(r))
		reason = "tenant_channel_id mismatch"
	}
	if reason != "" {
		slog.Debug("webhook: invalid message dropped", "channel", name, "reason", reason)
		writeJSON(w, http.StatusAccepted, protocol.WebhookAck{Reason: reason})
		return
	}

	if !acceptor.Accept(env) {
		writeJSON(w, http.StatusAccepted, protocol.WebhookAck{Reason: "rejected"})
		return
	}
	writeJSON(w, http.StatusAccepted, protocol.WebhookAck{Accepted: true})
}

// envelopeFromWebhook validates msg and builds the envelope. The external id
// is namespaced by channel so two integrations may reuse the same ids.
// A non-empty reason means the message is unusable.
func envelopeFromWebhook(channel string, msg protocol.WebhookMessage) (bus.Envelope, string) {
	id := strings.TrimSpace(msg.ID)
	from := strings.TrimSpace(msg.From)
	switch {
	case id == "":
		return bus.Envelope{}, "missing id"
	case from == "":
		return bus.Envelope{}, "missing from"
	case strings.TrimSpace(msg.Content) == "":
		return bus.Envelope{}, "missing content"
	}

	msgType := msg.Type
	if msgType == "" {
		msgType = bus.TypeText
	}
	var arrival time.Time
	if msg.Timestamp > 0 {
		arrival = time.Unix(msg.Timestamp, 0)
	}

	return bus.Envelope{
		ExternalID:       "wh:" + channel + ":" + id,
		TenantChannelID:  msg.TenantChannelID,
		SenderAddress:    from,
		RecipientAddress: msg.To,
		Type:             msgType,
		ContentRef:       msg.Content,
		ArrivalTime:      arrival,
		Metadata:         msg.Metadata,
	}, ""
}
