package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last write
// before reloading.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads an engine's table when its policy file changes. A file
// that fails to parse leaves the previous table in place.
type Watcher struct {
	engine   *Engine
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
	onReload func(error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the reload delay.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the watcher logger.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// OnReload registers a callback invoked after every reload attempt.
func OnReload(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher watches path for engine. The directory is watched so that
// editors replacing the file by rename are noticed.
func NewWatcher(engine *Engine, path string, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}
	w := &Watcher{
		engine:   engine,
		path:     abs,
		watcher:  fw,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches for changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(w.debounce, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("camel.policy.watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err == nil {
		err = w.engine.Load(cfg)
	}
	if err != nil {
		w.logger.Error("camel.policy.reload_failed", slog.String("path", w.path), slog.String("error", err.Error()))
	} else {
		w.logger.Info("camel.policy.reloaded", slog.String("path", w.path), slog.String("hash", cfg.Hash))
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
