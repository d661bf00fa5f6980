package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of filesystem events editors produce
// for a single save into one reload.
const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the config file on change and applies the hot-reloadable
// values to a Settings holder. Reload failures keep the previous values.
type Watcher struct {
	cli      *CLI
	path     string
	settings *Settings
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a Watcher for the file cfg was loaded from.
func NewWatcher(cli *CLI, cfg *Config, settings *Settings, logger *slog.Logger) *Watcher {
	return &Watcher{
		cli:      cli,
		path:     cfg.FilePath(),
		settings: settings,
		logger:   logger.With("component", "config_watcher"),
	}
}

// Start begins watching the config file. It is a no-op when the Config was
// built without a file, and safe to call only once before Stop.
func (w *Watcher) Start() error {
	if w.path == "" {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	// Watch the directory, not the file: editors that write a temp file and
	// rename it over the original would otherwise drop the watch.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = fw
	w.done = make(chan struct{})
	go w.loop(fw, w.done)

	w.logger.Info("watching config file", "path", w.path)
	return nil
}

// Stop ends the watch. Safe to call when Start was never called.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fw := w.watcher
	done := w.done
	w.watcher = nil
	w.done = nil
	w.mu.Unlock()

	if fw == nil {
		return
	}
	close(done)
	_ = fw.Close()
}

func (w *Watcher) loop(fw *fsnotify.Watcher, done <-chan struct{}) {
	name := filepath.Base(w.path)

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-done:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-fire:
			fire = nil
			w.reload()

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Stop()
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "err", err)
		}
	}
}

// reload re-reads the config file with the original CLI overrides and swaps
// the live settings. Only the hot-reloadable values (keepalive toggle and
// heartbeat interval) take effect; server and upstream settings need a restart.
func (w *Watcher) reload() {
	cfg, err := Load(w.cli)
	if err != nil {
		w.logger.Error("config reload failed; keeping previous settings", "err", err)
		return
	}

	w.settings.Apply(cfg)
	w.logger.Info("config reloaded",
		"keepalive_enabled", cfg.Keepalive.IsEnabled(),
		"heartbeat_interval_s", cfg.Keepalive.IntervalSeconds,
	)
}
