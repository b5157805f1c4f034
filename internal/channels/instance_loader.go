package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/store"
)

// Channel types.
const (
	TypeWhatsApp = "whatsapp"
	TypeTelegram = "telegram"
	TypeDiscord  = "discord"
	TypeWebhook  = "webhook"
)

// Instance describes one configured channel connection.
type Instance struct {
	Name            string
	Type            string
	TenantChannelID string
	Token           string // bot token (telegram, discord)
	BridgeURL       string // whatsapp bridge
	CallbackURL     string // webhook replies
	AllowFrom       []string
}

// Factory creates a Channel for one instance.
// A nil Channel with nil error means "not ready" (e.g. missing credentials).
type Factory func(inst Instance, router bus.InboundRouter) (Channel, error)

type allowListSetter interface {
	SetAllowList([]string)
}

type loadedInstance struct {
	inst    Instance
	channel Channel
}

// InstanceLoader builds channels from configured instances and registers them
// with the Manager. The allowlist stored on the tenant channel config takes
// precedence over the one in the config file; RefreshAllowLists re-applies it
// after channel configs change.
type InstanceLoader struct {
	configs   store.ConfigStore
	factories map[string]Factory
	manager   *Manager
	router    bus.InboundRouter
	mu        sync.Mutex
	loaded    map[string]loadedInstance // channel names managed by this loader
}

// NewInstanceLoader creates a new InstanceLoader. configs may be nil.
func NewInstanceLoader(configs store.ConfigStore, mgr *Manager, router bus.InboundRouter) *InstanceLoader {
	return &InstanceLoader{
		configs:   configs,
		factories: make(map[string]Factory),
		manager:   mgr,
		router:    router,
		loaded:    make(map[string]loadedInstance),
	}
}

// RegisterFactory registers a factory for a channel type (e.g., "telegram", "discord").
func (l *InstanceLoader) RegisterFactory(channelType string, factory Factory) {
	l.factories[channelType] = factory
}

// LoadAll creates and registers a channel per instance. Channels are not
// started; Manager.StartAll does that once everything is registered.
func (l *InstanceLoader) LoadAll(ctx context.Context, instances []Instance) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	registered := 0
	for _, inst := range instances {
		if err := l.loadInstance(ctx, inst); err != nil {
			slog.Error("failed to load channel instance",
				"name", inst.Name, "type", inst.Type, "error", err)
			errs = append(errs, fmt.Errorf("channel %s: %w", inst.Name, err))
			continue
		}
		registered++
	}

	if registered > 0 {
		slog.Info("channel instances loaded", "count", registered)
	}
	return errors.Join(errs...)
}

// RefreshAllowLists re-reads the stored allowlist of every loaded instance.
// Called on channel config cache invalidation.
func (l *InstanceLoader) RefreshAllowLists(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, li := range l.loaded {
		setter, ok := li.channel.(allowListSetter)
		if !ok {
			continue
		}
		setter.SetAllowList(l.resolveAllowList(ctx, li.inst))
		slog.Debug("channel allowlist refreshed", "channel", name)
	}
}

// Stop stops and unregisters all managed channels.
func (l *InstanceLoader) Stop(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, li := range l.loaded {
		if err := li.channel.Stop(ctx); err != nil {
			slog.Warn("failed to stop channel instance", "name", name, "error", err)
		}
		l.manager.UnregisterChannel(name)
	}
	l.loaded = make(map[string]loadedInstance)
}

// LoadedNames returns the set of channel names managed by the loader.
func (l *InstanceLoader) LoadedNames() map[string]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make(map[string]struct{}, len(l.loaded))
	for k := range l.loaded {
		result[k] = struct{}{}
	}
	return result
}

// loadInstance creates and registers a single channel (caller must hold lock).
func (l *InstanceLoader) loadInstance(ctx context.Context, inst Instance) error {
	factory, ok := l.factories[inst.Type]
	if !ok {
		return fmt.Errorf("no factory for channel type %q", inst.Type)
	}
	if _, dup := l.loaded[inst.Name]; dup {
		return fmt.Errorf("duplicate channel name %q", inst.Name)
	}

	resolved := inst
	resolved.AllowFrom = l.resolveAllowList(ctx, inst)
	ch, err := factory(resolved, l.router)
	if err != nil {
		return err
	}
	if ch == nil {
		slog.Info("channel instance not ready (missing credentials)", "name", inst.Name, "type", inst.Type)
		return nil
	}

	l.manager.RegisterChannel(inst.Name, ch)
	l.loaded[inst.Name] = loadedInstance{inst: inst, channel: ch}

	slog.Info("channel instance loaded",
		"name", inst.Name, "type", inst.Type, "tenant_channel_id", inst.TenantChannelID)
	return nil
}

func (l *InstanceLoader) resolveAllowList(ctx context.Context, inst Instance) []string {
	if l.configs == nil || inst.TenantChannelID == "" {
		return inst.AllowFrom
	}
	cfg, err := l.configs.GetChannelConfig(ctx, inst.TenantChannelID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("channel config unavailable, using file allowlist",
				"name", inst.Name, "tenant_channel_id", inst.TenantChannelID, "error", err)
		}
		return inst.AllowFrom
	}
	if len(cfg.AllowFrom) > 0 {
		return cfg.AllowFrom
	}
	return inst.AllowFrom
}
