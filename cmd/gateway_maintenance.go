package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/config"
	"github.com/nextlevelbuilder/inboxd/internal/store"
)

// pruneMarkers drops expired acceptance markers every ttl/2.
func pruneMarkers(ctx context.Context, markers *bus.DedupeCache, ttl time.Duration) {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := markers.Prune(); n > 0 {
				slog.Debug("dedupe: pruned expired markers", "count", n)
			}
		}
	}
}

// runErrorPurge deletes old error records whenever the purge schedule is due.
// The schedule is checked once a minute, the resolution of a cron expression.
func runErrorPurge(ctx context.Context, errs store.ErrorStore, cfg config.MaintenanceConfig) {
	if cfg.PurgeSchedule == "" || cfg.PurgeSchedule == config.PurgeOff {
		slog.Info("error record purge disabled")
		return
	}
	retention := time.Duration(cfg.ErrorRetentionDays) * 24 * time.Hour
	if retention <= 0 {
		slog.Info("error record purge disabled (no retention)")
		return
	}

	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(cfg.PurgeSchedule, now.Truncate(time.Minute))
			if err != nil {
				slog.Warn("error record purge: bad schedule", "schedule", cfg.PurgeSchedule, "error", err)
				return
			}
			if due {
				purgeErrors(ctx, errs, now.Add(-retention))
			}
		}
	}
}

func purgeErrors(ctx context.Context, errs store.ErrorStore, cutoff time.Time) {
	n, err := errs.PurgeErrorsBefore(ctx, cutoff)
	if err != nil {
		slog.Warn("error record purge failed", "error", err)
		return
	}
	slog.Info("error records purged", "count", n, "cutoff", cutoff.Format(time.RFC3339))
}
