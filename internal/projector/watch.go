package projector

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 250 * time.Millisecond

// WatchRules reloads the rules file into p whenever it changes, until ctx is
// done. An invalid file is logged and the previous rules stay active.
// The parent directory is watched so atomic-rename saves are seen.
func WatchRules(ctx context.Context, path string, p *SQLProjector, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("resolve rules path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
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
				reloadRules(abs, p, logger)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("rules watcher error", "err", err)
			}
		}
	}()

	return nil
}

func reloadRules(path string, p *SQLProjector, logger *slog.Logger) {
	rules, err := LoadRules(path)
	if err == nil {
		err = p.SetRules(rules)
	}
	if err != nil {
		logger.Error("rules reload rejected", "path", path, "err", err)
		return
	}
	logger.Info("rules reloaded", "path", path, "entity_types", len(rules))
}
