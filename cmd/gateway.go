package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/cache"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
	"github.com/nextlevelbuilder/inboxd/internal/config"
	"github.com/nextlevelbuilder/inboxd/internal/dedupe"
	"github.com/nextlevelbuilder/inboxd/internal/errreport"
	"github.com/nextlevelbuilder/inboxd/internal/gateway"
	"github.com/nextlevelbuilder/inboxd/internal/processor"
	"github.com/nextlevelbuilder/inboxd/internal/sequencer"
	"github.com/nextlevelbuilder/inboxd/internal/tracing"
	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

// shutdownGrace bounds draining in-flight pipelines and receipts on exit.
const shutdownGrace = 30 * time.Second

func runGateway() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, cfgPath); err != nil {
		slog.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

// serve wires every component, runs until ctx is done and then shuts down in
// dependency order: intake first, then in-flight pipelines, then channels.
func serve(ctx context.Context, cfg *config.Config, cfgPath string) error {
	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := seedStores(ctx, stores.Configs, cfg.SeedSnapshot()); err != nil {
		slog.Warn("seeding tenants and channel configs failed", "error", err)
	}

	msgBus := bus.New()

	configCache := cache.New(cfg.Cache.TTL(),
		cache.WithNamespaceTTL(bus.CacheKindChannelConfig, cfg.Cache.ChannelConfigTTL()),
		cache.WithNamespaceTTL(bus.CacheKindTenant, cfg.Cache.TenantTTL()),
	)

	// Channels
	channelMgr := channels.NewManager(channels.ManagerConfig{
		SendRate:  rate.Limit(cfg.Channels.SendRatePerSec),
		SendBurst: cfg.Channels.SendBurst,
	})
	loader := channels.NewInstanceLoader(stores.Configs, channelMgr, msgBus)
	registerChannelFactories(loader)
	if err := loader.LoadAll(ctx, instancesFromConfig(cfg.Channels)); err != nil {
		slog.Warn("some channel instances failed to load", "error", err)
	}

	// Cache invalidation: evict entries and re-apply stored allowlists.
	msgBus.Subscribe("cache:config", func(event bus.Event) {
		if event.Name != protocol.EventCacheInvalidate {
			return
		}
		payload, ok := event.Payload.(bus.CacheInvalidatePayload)
		if !ok {
			return
		}
		if payload.Key == "" {
			configCache.InvalidateNamespace(payload.Kind)
		} else {
			configCache.Invalidate(payload.Kind, payload.Key)
		}
		if payload.Kind == bus.CacheKindChannelConfig {
			go loader.RefreshAllowLists(context.Background())
		}
	})

	// Processor
	markers := bus.NewDedupeCache(cfg.Processor.MarkerTTL(), cfg.Processor.MarkerMax)
	filter := dedupe.NewFilter(markers, stores.Messages)

	reporter := errreport.New(stores.Errors, channelMgr, cfg.Processor.FailureMessage)
	reporter.SetMessageResolver(processor.FailureMessageResolver(configCache, stores.Configs))

	pipeline := processor.NewPipeline(processor.PipelineDeps{
		Cache:        configCache,
		Configs:      stores.Configs,
		Messages:     stores.Messages,
		Responder:    buildResponder(cfg.Provider),
		Deliverer:    channelMgr,
		HistoryLimit: cfg.Processor.HistoryLimit,
		AckReaction:  cfg.Processor.AckReaction,
	})
	proc := processor.New(filter, sequencer.New(), reporter, pipeline, processor.Config{
		TaskTimeout: cfg.Processor.TaskTimeout(),
	})

	server := gateway.NewServer(cfg.Gateway, gateway.Deps{
		Channels: channelMgr,
		Stores:   stores,
		Events:   msgBus,
		Stats: func() protocol.StatsSnapshot {
			return statsSnapshot(configCache, proc, channelMgr)
		},
	})

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	slog.Info("inboxd gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"mode", cfg.Database.Mode,
		"channels", channelMgr.GetEnabledChannels(),
		"llm", cfg.Provider.Enabled(),
	)

	g, gctx := errgroup.WithContext(ctx)
	configCache.StartSweeper(gctx, cfg.Cache.SweepInterval())
	g.Go(func() error {
		consumeInboundMessages(gctx, msgBus, proc)
		return nil
	})
	g.Go(func() error {
		pruneMarkers(gctx, markers, cfg.Processor.MarkerTTL())
		return nil
	})
	g.Go(func() error {
		runErrorPurge(gctx, stores.Errors, cfg.Maintenance)
		return nil
	})
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, cfg, func(next *config.Config) {
			onConfigReload(gctx, cfg, next, stores.Configs, msgBus)
		})
		if err != nil {
			// Hot reload is optional; the gateway keeps running without it.
			slog.Warn("config hot reload unavailable", "error", err)
		}
		return nil
	})

	runErr := g.Wait()
	slog.Info("graceful shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	var errs []error
	if err := proc.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := channelMgr.StopAll(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}

	slog.Info("inboxd gateway stopped", "stats", proc.Stats())
	if runErr != nil {
		errs = append([]error{runErr}, errs...)
	}
	return errors.Join(errs...)
}

func statsSnapshot(c *cache.Cache, proc *processor.Processor, mgr *channels.Manager) protocol.StatsSnapshot {
	snap := protocol.StatsSnapshot{
		Version:   Version,
		Protocol:  protocol.ProtocolVersion,
		Cache:     c.Stats(),
		Processor: proc.Stats(),
		Channels:  make(map[string]protocol.ChannelStatus),
	}
	for _, name := range mgr.GetEnabledChannels() {
		if ch, ok := mgr.GetChannel(name); ok {
			snap.Channels[name] = protocol.ChannelStatus{Running: ch.IsRunning()}
		}
	}
	return snap
}

// onConfigReload applies a re-read config file: seeds are upserted and both
// config namespaces invalidated. Channel instances and listeners keep their
// startup settings until restart.
func onConfigReload(ctx context.Context, current, next *config.Config, configs configWriter, events bus.EventPublisher) {
	current.ReplaceFrom(next)

	if err := seedStores(ctx, configs, next.SeedSnapshot()); err != nil {
		slog.Warn("config reload: seeding failed", "error", err)
	}
	for _, kind := range []string{bus.CacheKindChannelConfig, bus.CacheKindTenant} {
		events.Broadcast(bus.Event{
			Name:    protocol.EventCacheInvalidate,
			Payload: bus.CacheInvalidatePayload{Kind: kind},
		})
	}
	events.Broadcast(bus.Event{Name: protocol.EventConfigReloaded})
	slog.Info("config reload applied; channel and listener changes take effect after restart")
}
