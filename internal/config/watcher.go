package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit for one save.
const reloadDebounce = 300 * time.Millisecond

// Watch reloads the config file whenever it changes and calls onChange with the
// new config. Parse errors keep the previous config and are logged. The
// directory is watched rather than the file so atomic replace-on-save works.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, current *Config, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(abs), err)
	}
	slog.Info("config: watching for changes", "path", abs)

	lastHash := current.Hash()
	var (
		timer  *time.Timer
		fire   <-chan time.Time
		reload = func() {
			next, err := Load(abs)
			if err != nil {
				slog.Warn("config: reload failed, keeping previous config", "path", abs, "error", err)
				return
			}
			if h := next.Hash(); h == lastHash {
				return
			} else {
				lastHash = h
			}
			slog.Info("config: reloaded", "path", abs)
			onChange(next)
		}
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			reload()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: watcher error", "error", err)
		}
	}
}
