// Package watch re-syncs the world template into the store when the
// file changes on disk, so a world book can be edited while a session
// is running.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SyncFunc applies the template at path to the store and reports how
// many cards were added and updated.
type SyncFunc func(ctx context.Context, path string) (added, updated int, err error)

// TemplateWatcher watches a single template file and runs a sync after
// writes settle. Editor save storms are debounced.
type TemplateWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	sync     SyncFunc
	log      *zap.Logger
	debounce time.Duration

	mu      sync.Mutex
	dirty   time.Time
	running bool

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewTemplateWatcher(path string, syncFn SyncFunc, log *zap.Logger) (*TemplateWatcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &TemplateWatcher{
		watcher:  watcher,
		path:     path,
		sync:     syncFn,
		log:      log,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching; non-blocking. The parent directory is watched
// rather than the file itself so atomic-rename saves keep working.
func (w *TemplateWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.log.Info("watching template", zap.String("path", w.path))

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
func (w *TemplateWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *TemplateWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
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
			w.log.Warn("template watcher error", zap.Error(err))
		case <-ticker.C:
			w.maybeSync(ctx)
		}
	}
}

func (w *TemplateWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.dirty = time.Now()
	w.mu.Unlock()
}

func (w *TemplateWatcher) maybeSync(ctx context.Context) {
	w.mu.Lock()
	pending := !w.dirty.IsZero() && time.Since(w.dirty) >= w.debounce
	if pending {
		w.dirty = time.Time{}
	}
	w.mu.Unlock()
	if !pending {
		return
	}

	added, updated, err := w.sync(ctx, w.path)
	if err != nil {
		w.log.Warn("template sync failed", zap.Error(err))
		return
	}
	if added+updated > 0 {
		w.log.Info("template synced",
			zap.Int("added", added),
			zap.Int("updated", updated))
	}
}
