package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/moorhen/cartograph/internal/logging"
)

// ReloadCallback is called when the rules file is successfully reloaded.
// A callback error is logged but the watcher keeps watching.
type ReloadCallback func(rules *RulesFile) error

// RulesWatcherConfig holds configuration for the RulesWatcher.
type RulesWatcherConfig struct {
	// FilePath is the rules YAML file to watch.
	FilePath string

	// DebounceMillis coalesces file change events within this period into a
	// single reload. Default: 500ms.
	DebounceMillis int
}

// RulesWatcher watches the alert-rule toggle file and triggers reload
// callbacks with debouncing. Invalid configs during reload are logged and
// the previous valid config stays in effect.
type RulesWatcher struct {
	config   RulesWatcherConfig
	callback ReloadCallback
	cancel   context.CancelFunc
	stopped  chan struct{}
	ready    chan struct{}
	logger   *logging.Logger
	mu       sync.Mutex

	debounceTimer *time.Timer
}

// NewRulesWatcher creates a watcher for the given rules file.
func NewRulesWatcher(config RulesWatcherConfig, callback ReloadCallback) (*RulesWatcher, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("FilePath cannot be empty")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}
	if config.DebounceMillis == 0 {
		config.DebounceMillis = 500
	}

	return &RulesWatcher{
		config:   config,
		callback: callback,
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
		logger:   logging.GetLogger("config.rules-watcher"),
	}, nil
}

// Start loads the initial rules file, calls the callback, and watches for
// changes. Returns once the watcher is installed; reloads happen in the
// background until Stop.
func (w *RulesWatcher) Start(ctx context.Context) error {
	initial, err := LoadRulesFile(w.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to load initial rules config: %w", err)
	}
	if err := w.callback(initial); err != nil {
		return fmt.Errorf("initial callback failed: %w", err)
	}
	w.logger.Info("loaded initial rules config from %s", w.config.FilePath)

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.watchLoop(watchCtx)

	// Do not return before the fsnotify watch is installed, or an immediate
	// file change could be missed.
	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}

	return nil
}

func (w *RulesWatcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *RulesWatcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.ErrorWithErr("failed to create file watcher", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.config.FilePath); err != nil {
		w.logger.ErrorWithErr("failed to watch rules file", err)
		return
	}

	w.logger.Info("watching %s for changes (debounce: %dms)",
		w.config.FilePath, w.config.DebounceMillis)
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Rename/Remove cover atomic writes: the old inode is unlinked
			// before the new file is renamed into place, so the watch must
			// be re-added.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.config.FilePath); err != nil {
					w.logger.Warn("failed to re-add watch after %s: %v", event.Op, err)
				}
			}
			w.handleFileChange(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.ErrorWithErr("watcher error", err)
		}
	}
}

func (w *RulesWatcher) handleFileChange(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		func() { w.reload(ctx) },
	)
}

func (w *RulesWatcher) reload(ctx context.Context) {
	rules, err := LoadRulesFile(w.config.FilePath)
	if err != nil {
		w.logger.ErrorWithErr("failed to reload rules config, keeping previous", err)
		return
	}
	if err := w.callback(rules); err != nil {
		w.logger.ErrorWithErr("rules reload callback failed", err)
		return
	}
	w.logger.Info("rules config reloaded from %s", w.config.FilePath)
}

// Stop cancels the watch loop and waits for it to exit.
func (w *RulesWatcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}

	select {
	case <-w.stopped:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for watcher to stop")
	}
}
