package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
)

const writeTimeout = 10 * time.Second

// Channel connects to a WhatsApp bridge via WebSocket.
// The bridge (e.g. whatsapp-web.js or a Cloud API relay) handles the actual
// WhatsApp protocol; this channel just sends/receives JSON frames over WS.
type Channel struct {
	*channels.BaseChannel
	bridgeURL string
	conn      *websocket.Conn
	mu        sync.Mutex // guards conn and serializes writes
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a new WhatsApp channel for one bridge connection.
func New(inst channels.Instance, router bus.InboundRouter) (*Channel, error) {
	if inst.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(inst.Name, inst.TenantChannelID, router, inst.AllowFrom),
		bridgeURL:   inst.BridgeURL,
	}, nil
}

// Factory creates a WhatsApp channel from a configured instance.
func Factory(inst channels.Instance, router bus.InboundRouter) (channels.Channel, error) {
	return New(inst, router)
}

// Start connects to the WhatsApp bridge WebSocket and begins listening.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "channel", c.Name(), "bridge_url", c.bridgeURL)

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	if err := c.connect(); err != nil {
		// The reconnect loop keeps trying.
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()

	c.SetRunning(true)
	return nil
}

// Stop gracefully shuts down the WhatsApp channel.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp channel", "channel", c.Name())

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()

	if c.done != nil {
		<-c.done
	}
	c.SetRunning(false)
	return nil
}

// Send delivers a text reply through the bridge.
func (c *Channel) Send(_ context.Context, recipient, text string) error {
	return c.writeFrame(outboundFrame{Type: frameMessage, To: recipient, Content: text})
}

// MarkRead asks the bridge to send a read receipt (blue ticks) for env.
func (c *Channel) MarkRead(_ context.Context, env bus.Envelope) error {
	return c.writeFrame(outboundFrame{Type: frameRead, Chat: chatOf(env), ID: messageIDOf(env)})
}

// React asks the bridge to put an emoji reaction on env.
func (c *Channel) React(_ context.Context, env bus.Envelope, emoji string) error {
	return c.writeFrame(outboundFrame{Type: frameReact, Chat: chatOf(env), ID: messageIDOf(env), Emoji: emoji})
}

func (c *Channel) writeFrame(f outboundFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal whatsapp %s frame: %w", f.Type, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp %s frame: %w", f.Type, err)
	}
	return nil
}

// connect establishes the WebSocket connection to the bridge.
func (c *Channel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(c.ctx, c.bridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.bridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	slog.Info("whatsapp bridge connected", "channel", c.Name(), "url", c.bridgeURL)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (c *Channel) listenLoop() {
	defer close(c.done)
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "channel", c.Name(), "backoff", backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}

			backoff = time.Second // reset on success
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			slog.Warn("whatsapp read error, will reconnect", "error", err)

			c.mu.Lock()
			if c.conn == conn {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.connected = false
			c.mu.Unlock()

			continue
		}

		env, ok, err := parseFrame(data)
		if err != nil {
			slog.Warn("invalid whatsapp frame", "channel", c.Name(), "error", err)
			continue
		}
		if !ok {
			continue
		}

		slog.Debug("whatsapp message received",
			"channel", c.Name(),
			"external_id", env.ExternalID,
			"sender", env.SenderAddress,
			"preview", channels.Truncate(env.ContentRef, 50),
		)
		c.HandleEnvelope(env)
	}
}
