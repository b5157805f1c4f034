package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
)

// DefaultReceiptTimeout bounds a detached read receipt or reaction.
const DefaultReceiptTimeout = 10 * time.Second

// ManagerConfig tunes outbound pacing.
type ManagerConfig struct {
	SendRate       rate.Limit // replies per second per channel; 0 = unlimited
	SendBurst      int
	ReceiptTimeout time.Duration
}

// Manager manages all registered channels, handling their lifecycle
// and routing replies and receipts to the correct channel.
type Manager struct {
	cfg      ManagerConfig
	channels map[string]Channel
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	// receipts tracks detached MarkRead/React calls so StopAll can drain them.
	receipts sync.WaitGroup
}

// NewManager creates a new channel manager.
// Channels are registered externally via RegisterChannel.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	return &Manager{
		cfg:      cfg,
		channels: make(map[string]Channel),
		limiters: make(map[string]*rate.Limiter),
	}
}

// StartAll starts all registered channels. A channel that fails to start is
// logged and skipped so one bad credential does not take the gateway down.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	slog.Info("starting all channels")
	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}
	slog.Info("all channels started")
	return nil
}

// StopAll waits for pending receipts (bounded by ctx) and stops all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		m.receipts.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		slog.Warn("stopping channels with receipts still pending")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	slog.Info("stopping all channels")
	for name, channel := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	slog.Info("all channels stopped")
	return nil
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
	if m.cfg.SendRate > 0 {
		m.limiters[name] = rate.NewLimiter(m.cfg.SendRate, m.cfg.SendBurst)
	}
}

// UnregisterChannel removes a channel from the manager.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
	delete(m.limiters, name)
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]interface{})
	for name, channel := range m.channels {
		status[name] = map[string]interface{}{
			"enabled": true,
			"running": channel.IsRunning(),
		}
	}
	return status
}

// GetEnabledChannels returns the names of all registered channels.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// Deliver sends text to recipient through the named channel, waiting for the
// channel's send budget first.
func (m *Manager) Deliver(ctx context.Context, channelName, recipient, text string) error {
	m.mu.RLock()
	channel, exists := m.channels[channelName]
	limiter := m.limiters[channelName]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("channel %s not found", channelName)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("channel %s send budget: %w", channelName, err)
		}
	}
	if err := channel.Send(ctx, recipient, text); err != nil {
		return fmt.Errorf("channel %s send: %w", channelName, err)
	}
	return nil
}

// MarkRead fires a read receipt for env without blocking the caller.
func (m *Manager) MarkRead(env bus.Envelope) {
	m.detachReceipt(env, "read", func(ctx context.Context, rc ReceiptChannel) error {
		return rc.MarkRead(ctx, env)
	})
}

// React fires an emoji reaction on env without blocking the caller.
func (m *Manager) React(env bus.Envelope, emoji string) {
	m.detachReceipt(env, "react", func(ctx context.Context, rc ReceiptChannel) error {
		return rc.React(ctx, env, emoji)
	})
}

// detachReceipt runs fn in its own goroutine. Errors are logged at Debug only.
func (m *Manager) detachReceipt(env bus.Envelope, kind string, fn func(context.Context, ReceiptChannel) error) {
	m.mu.RLock()
	channel, exists := m.channels[env.Channel]
	m.mu.RUnlock()
	if !exists {
		return
	}
	rc, ok := channel.(ReceiptChannel)
	if !ok {
		return
	}

	m.receipts.Add(1)
	go func() {
		defer m.receipts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReceiptTimeout)
		defer cancel()
		if err := fn(ctx, rc); err != nil {
			slog.Debug("receipt failed", "channel", env.Channel, "kind", kind,
				"external_id", env.ExternalID, "error", err)
		}
	}()
}
