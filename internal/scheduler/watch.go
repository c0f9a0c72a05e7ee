package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/obentoo/triggerdockerbuild/internal/common/logger"
)

// FileWatcher marks a file stale when it is written, created or replaced.
// The owner reloads it at a safe point and clears the flag with TakeStale.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	stale   atomic.Bool
	logger  *logger.Logger
	cancel  context.CancelFunc
}

// NewFileWatcher watches path. The parent directory is watched so editors
// that save by renaming a temp file are still seen.
func NewFileWatcher(path string, l *logger.Logger) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	if l == nil {
		l = logger.Default()
	}
	return &FileWatcher{watcher: watcher, path: abs, logger: l}, nil
}

// Start begins watching for changes
func (w *FileWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
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
				w.logger.Warn("Watching %s: %v", w.path, err)
			}
		}
	}()
}

func (w *FileWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if !w.stale.Swap(true) {
		w.logger.Info("%s changed, reloading before next pass", w.path)
	}
}

// TakeStale reports whether the file changed since the last call
func (w *FileWatcher) TakeStale() bool {
	return w.stale.Swap(false)
}

// Stop stops watching
func (w *FileWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}
