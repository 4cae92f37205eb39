package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce keeps editor save bursts from triggering repeated
// re-seeds.
const defaultDebounce = 250 * time.Millisecond

// Watcher re-applies a seed file whenever it changes on disk.
type Watcher struct {
	seeder   *Seeder
	path     string
	logger   *slog.Logger
	debounce time.Duration
	onApply  func()

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a watcher for the seed file at path. onApply, if
// non-nil, runs after every successful re-seed so callers can refresh
// schedules.
func NewWatcher(seeder *Seeder, path string, logger *slog.Logger, onApply func()) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		seeder:   seeder,
		path:     path,
		logger:   logger.With("component", "seed-watcher"),
		debounce: defaultDebounce,
		onApply:  onApply,
		watcher:  fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Watch blocks processing file events until the context is cancelled
// or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("seed watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	// Editors often replace files atomically, so for a file seed the
	// parent directory is watched rather than the file itself.
	watchPath := w.path
	if info, err := os.Stat(w.path); err != nil || !info.IsDir() {
		watchPath = filepath.Dir(w.path)
	}
	if err := w.watcher.Add(watchPath); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.path, err)
	}

	w.logger.Info("seed watcher started", "path", w.path)

	var timer *time.Timer
	reseed := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("seed watcher stopped", "reason", "context cancelled")
			return nil

		case <-w.stopCh:
			w.logger.Info("seed watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("seed file event", "path", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reseed <- struct{}{}:
				default:
				}
			})

		case <-reseed:
			w.apply(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("seed watcher error", "error", err)
		}
	}
}

// Stop terminates the watch loop and releases the fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	return w.watcher.Close()
}

func (w *Watcher) apply(ctx context.Context) {
	created, updated, err := w.seeder.Apply(ctx, w.path)
	if err != nil {
		w.logger.Error("seed reload failed", "path", w.path, "error", err)
		return
	}
	w.logger.Info("seed reloaded", "path", w.path, "created", created, "updated", updated)
	if w.onApply != nil {
		w.onApply()
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	if filepath.Clean(event.Name) == filepath.Clean(w.path) {
		return true
	}
	if !yamlFile(event.Name) {
		return false
	}
	if info, err := os.Stat(w.path); err == nil && info.IsDir() {
		return true
	}
	// Atomic saves rename a temp file over the target.
	return filepath.Base(event.Name) == filepath.Base(w.path)
}
