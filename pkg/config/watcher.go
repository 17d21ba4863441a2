package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDelay = 500 * time.Millisecond

// Watcher reloads a Store when its source files change.
type Watcher struct {
	store     *Store
	opts      Options
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	callbacks []func(*Store)
	mu        sync.RWMutex
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewWatcher starts watching opts.Dir. Reloaded values replace the store's
// contents in place so every holder of the store observes them.
func NewWatcher(store *Store, opts Options, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(opts.Dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config dir %s: %w", opts.Dir, err)
	}

	w := &Watcher{
		store:   store,
		opts:    opts,
		logger:  logger,
		watcher: fsWatcher,
		stopCh:  make(chan struct{}),
	}
	go w.watchLoop()

	logger.Info("Configuration hot reloading enabled", zap.String("dir", opts.Dir))
	return w, nil
}

// OnChange registers a callback invoked after every successful reload.
func (w *Watcher) OnChange(callback func(*Store)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, callback)
	w.mu.Unlock()
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *Watcher) watchLoop() {
	defer w.watcher.Close()

	var debounceTimer *time.Timer
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !isConfigFile(event.Name) {
				continue
			}
			w.logger.Info("Configuration file changed",
				zap.String("file", event.Name),
				zap.String("operation", event.Op.String()),
			)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, w.Reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			w.logger.Info("Stopping configuration watcher")
			return
		}
	}
}

// Reload re-reads configuration and swaps it into the store. A failing load
// keeps the previous values.
func (w *Watcher) Reload() {
	fresh, err := Load(w.opts)
	if err != nil {
		w.logger.Error("Invalid configuration after reload", zap.Error(err))
		return
	}
	w.store.replace(fresh)

	w.mu.RLock()
	callbacks := make([]func(*Store), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for i, callback := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("Callback panicked", zap.Int("callback_index", i), zap.Any("panic", r))
				}
			}()
			callback(w.store)
		}()
	}

	w.logger.Info("Configuration reloaded successfully",
		zap.Uint64("version", w.store.Version()),
		zap.Int("callbacks_notified", len(callbacks)),
	)
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return true
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json", ".toml":
		return true
	}
	return false
}
