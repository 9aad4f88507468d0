package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder keeps the current value built from a file or directory and
// rebuilds it on change. A rebuild produces a new value that replaces the
// old one atomically; the old value is never mutated. When a rebuild
// fails the old value stays in place.
type Holder[T any] struct {
	current  atomic.Pointer[T]
	build    func() (*T, error)
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	mu       sync.Mutex // serializes reloads and guards onChange
	onChange []func(*T)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder builds the initial value. path is what WatchFile observes.
func NewHolder[T any](path string, build func() (*T, error), logger zerolog.Logger) (*Holder[T], error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	v, err := build()
	if err != nil {
		return nil, err
	}

	h := &Holder[T]{
		build:  build,
		path:   absPath,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	h.current.Store(v)
	return h, nil
}

// Get returns the current value (thread-safe).
func (h *Holder[T]) Get() *T {
	return h.current.Load()
}

// Reload rebuilds the value. Returns error if building fails (keeps old value).
func (h *Holder[T]) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Info().Str("path", h.path).Msg("reloading configuration")

	v, err := h.build()
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		return fmt.Errorf("reload config: %w", err)
	}
	h.current.Store(v)

	for _, fn := range h.onChange {
		fn(v)
	}

	h.logger.Info().Msg("configuration reloaded successfully")
	return nil
}

// OnChange registers a callback to be called after a successful reload.
func (h *Holder[T]) OnChange(fn func(*T)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// WatchFile starts watching the path for changes. For a directory every
// YAML file in it is watched; for a file only that file is.
func (h *Holder[T]) WatchFile() error {
	info, err := os.Stat(h.path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", h.path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Watch the directory (more reliable for editors that do atomic saves)
	dir, match := filepath.Dir(h.path), h.matchFile
	if info.IsDir() {
		dir, match = h.path, isYAML
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop(match)

	h.logger.Info().Str("path", h.path).Msg("watching configuration for changes")
	return nil
}

// WatchSignals starts listening for SIGHUP to trigger reload.
func (h *Holder[T]) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("SIGHUP reload failed")
				}
			case <-h.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()

	h.logger.Info().Msg("listening for SIGHUP to reload config")
}

// Stop stops watching for file changes and signals.
func (h *Holder[T]) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder[T]) matchFile(name string) bool {
	return filepath.Base(name) == filepath.Base(h.path)
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func (h *Holder[T]) watchLoop(match func(string) bool) {
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			if !match(event.Name) {
				continue
			}

			// React to write, create (atomic save) or remove (directory trees)
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				h.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("configuration file changed")

				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("file watch reload failed")
				}
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}
