package workflow

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures the overlay watcher.
type WatcherConfig struct {
	// Dir is the overlay directory to watch.
	Dir string

	// DebounceDelay is how long to wait for more changes before reloading.
	DebounceDelay time.Duration

	// Logger for watch events.
	Logger *slog.Logger
}

// Watcher reloads workflow overlays when their files change. The registry is
// refined in place; built-in stages are never removed, so consumers holding a
// *Workflow pointer stay valid.
type Watcher struct {
	registry *Registry
	config   WatcherConfig
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	// Debouncing: coalesce bursts of file events into one reload
	pendingMu sync.Mutex
	pending   bool
}

// NewWatcher creates an overlay watcher for the given registry.
func NewWatcher(registry *Registry, config WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.DebounceDelay == 0 {
		config.DebounceDelay = 200 * time.Millisecond
	}

	if err := fsw.Add(config.Dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		registry: registry,
		config:   config,
		watcher:  fsw,
		logger:   logger,
	}, nil
}

// Run watches until the context is cancelled. It performs an initial load
// before entering the event loop.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.reload(); err != nil {
		w.logger.Warn("Initial overlay load failed", "dir", w.config.Dir, "error", err)
	}

	debounce := time.NewTimer(w.config.DebounceDelay)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			w.pendingMu.Lock()
			if !w.pending {
				w.pending = true
				debounce.Reset(w.config.DebounceDelay)
			}
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Overlay watcher error", "error", err)

		case <-debounce.C:
			w.pendingMu.Lock()
			w.pending = false
			w.pendingMu.Unlock()

			if err := w.reload(); err != nil {
				w.logger.Warn("Overlay reload failed", "dir", w.config.Dir, "error", err)
			} else {
				w.logger.Info("Workflow overlays reloaded", "dir", w.config.Dir)
			}
		}
	}
}

// Close stops the underlying file watcher. Safe to call when Run already
// returned.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// reload re-applies every overlay in the directory.
func (w *Watcher) reload() error {
	overlays, err := LoadOverlayDir(w.config.Dir)
	if err != nil {
		return err
	}
	for _, overlay := range overlays {
		if err := w.registry.ApplyOverlay(overlay); err != nil {
			return err
		}
	}
	return nil
}
