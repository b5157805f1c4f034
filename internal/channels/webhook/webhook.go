// Package webhook is a channel for systems that speak plain HTTP: inbound
// messages arrive through the gateway's webhook endpoint and replies are
// POSTed as JSON to a callback URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
)

const sendTimeout = 15 * time.Second

// Reply is the JSON body POSTed to the callback URL.
type Reply struct {
	Channel         string `json:"channel"`
	TenantChannelID string `json:"tenant_channel_id,omitempty"`
	To              string `json:"to"`
	Text            string `json:"text"`
}

// Channel accepts envelopes from the gateway and posts replies to CallbackURL.
type Channel struct {
	*channels.BaseChannel
	callbackURL string
	client      *http.Client
}

// New creates a webhook channel. A channel without a callback URL accepts
// inbound messages but cannot reply.
func New(inst channels.Instance, router bus.InboundRouter) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel(inst.Name, inst.TenantChannelID, router, inst.AllowFrom),
		callbackURL: inst.CallbackURL,
		client:      &http.Client{Timeout: sendTimeout},
	}
}

// Factory creates a webhook channel from a configured instance.
func Factory(inst channels.Instance, router bus.InboundRouter) (channels.Channel, error) {
	return New(inst, router), nil
}

// Start marks the channel running. Inbound traffic is driven by the gateway.
func (c *Channel) Start(_ context.Context) error {
	c.SetRunning(true)
	slog.Info("webhook channel ready", "channel", c.Name(), "reply", c.callbackURL != "")
	return nil
}

// Stop marks the channel stopped.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// Accept hands an envelope received over HTTP to the bus.
// Returns false when the channel is stopped or the sender is not allowed.
func (c *Channel) Accept(env bus.Envelope) bool {
	if !c.IsRunning() {
		return false
	}
	return c.HandleEnvelope(env)
}

// Send POSTs a Reply to the callback URL. Any non-2xx status is an error.
func (c *Channel) Send(ctx context.Context, recipient, text string) error {
	if c.callbackURL == "" {
		return fmt.Errorf("webhook channel %s has no callback_url", c.Name())
	}

	body, err := json.Marshal(Reply{
		Channel:         c.Name(),
		TenantChannelID: c.TenantChannelID(),
		To:              recipient,
		Text:            text,
	})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("callback returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
