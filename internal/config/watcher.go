package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/frosk-go/frosk/internal/logger"
)

// reloadDelay coalesces the burst of events editors produce on save
const reloadDelay = 100 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk and hands
// every valid new configuration to the registered callbacks.
type Watcher struct {
	path   string
	logger *logger.Logger

	mu   sync.RWMutex
	cfg  *Config
	subs []func(*Config)
}

// NewWatcher creates a watcher for path starting from current
func NewWatcher(path string, current *Config, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.Discard()
	}
	return &Watcher{path: path, cfg: current, logger: log}
}

// Get returns the latest loaded configuration
func (w *Watcher) Get() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// OnReload registers a callback for config changes
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("Config reload failed: %v", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error("Ignoring invalid config: %v", err)
		return
	}

	w.mu.Lock()
	w.cfg = cfg
	subs := append([]func(*Config){}, w.subs...)
	w.mu.Unlock()

	w.logger.Info("Config reloaded from %s", w.path)
	for _, fn := range subs {
		fn(cfg)
	}
}

// Run watches the file until ctx is cancelled. The parent directory is
// watched so that editors which replace the file are followed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	name := filepath.Clean(w.path)
	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Config watcher error: %v", err)
		case <-timer.C:
			w.reload()
		}
	}
}
