package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the event bursts editors produce when saving.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes each
// successfully loaded Config to fn. Invalid files are logged and skipped.
// The parent directory is watched so that files replaced by rename are
// picked up. Watch returns once the watcher is running; it stops when ctx
// is done.
func Watch(ctx context.Context, path string, fn func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer w.Close()

		timer := time.NewTimer(reloadDelay)
		timer.Stop()

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					timer.Reset(reloadDelay)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			case <-timer.C:
				cfg, err := Load(abs)
				if err != nil {
					slog.Warn("ignoring invalid config", "path", abs, "error", err)
					continue
				}
				slog.Info("config reloaded", "path", abs)
				fn(cfg)
			}
		}
	}()
	return nil
}
