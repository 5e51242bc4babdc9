package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for debouncing file system events.
const DebounceDelay = 200 * time.Millisecond

// ChangeHandler receives the configuration reloaded after the file changed.
type ChangeHandler func(cfg *Config)

// Loader re-reads the configuration. Watcher calls it after each change.
type Loader func() (*Config, error)

// Watcher monitors the config file and notifies subscribers with the
// reloaded configuration. It watches the parent directory so that editors
// that replace the file by renaming are handled.
//
// Thread-safety: All public methods are safe for concurrent use.
type Watcher struct {
	path   string
	load   Loader
	logger *slog.Logger

	watcher *fsnotify.Watcher

	mu            sync.RWMutex
	handlers      []ChangeHandler
	debounceDelay time.Duration

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	done    chan struct{}
	stopped chan struct{}
}

// NewWatcher creates a watcher for path. Call Start to begin watching and
// Close when done.
func NewWatcher(path string, load Loader, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		path:          abs,
		load:          load,
		logger:        logger,
		watcher:       fw,
		debounceDelay: DebounceDelay,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}, nil
}

// SetDebounceDelay sets the delay for batching rapid changes.
// Must be called before Start.
func (w *Watcher) SetDebounceDelay(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDelay = d
}

// Subscribe registers h to receive reloaded configurations.
func (w *Watcher) Subscribe(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins the event processing loop.
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Close stops the watcher. No handler runs after Close returns, except one
// already in progress.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()
	return err
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("Config watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("Config file changed", "path", event.Name, "op", event.Op.String())
	}

	w.mu.RLock()
	delay := w.debounceDelay
	w.mu.RUnlock()

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	select {
	case <-w.done:
		return
	default:
	}
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(delay, w.reload)
}

func (w *Watcher) reload() {
	w.debounceMu.Lock()
	w.debounceTimer = nil
	w.debounceMu.Unlock()

	cfg, err := w.load()
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("Failed to reload config, keeping previous values", "path", w.path, "error", err)
		}
		return
	}

	w.mu.RLock()
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.RUnlock()

	if w.logger != nil {
		w.logger.Info("Config reloaded", "path", w.path, "subscribers", len(handlers))
	}
	for _, h := range handlers {
		h(cfg)
	}
}
