package syncrunner

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DirtyWatcher supplements the cron-driven tick loop with local filesystem
// notifications: when a task's local directory changes between scheduled
// runs, the task is marked dirty so the next tick runs it sooner than its
// schedule alone would dictate. This is a supplement, not a replacement —
// the scheduler remains the authority on when tasks actually execute
// (architecture.md §4.5 is unchanged); DirtyWatcher only narrows the
// window between a local edit and its eventual sync.
type DirtyWatcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu    sync.Mutex
	dirty map[string]bool // local_path -> dirty
	paths map[string]string // watched dir -> task's local_path root
}

// NewDirtyWatcher creates a DirtyWatcher. Call Close when done.
func NewDirtyWatcher(logger *slog.Logger) (*DirtyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	dw := &DirtyWatcher{watcher: w, logger: logger, dirty: make(map[string]bool), paths: make(map[string]string)}

	go dw.loop()

	return dw, nil
}

// Watch registers localPath for dirty-tracking.
func (dw *DirtyWatcher) Watch(localPath string) error {
	if err := dw.watcher.Add(localPath); err != nil {
		return err
	}

	dw.mu.Lock()
	dw.paths[localPath] = localPath
	dw.mu.Unlock()

	return nil
}

// Unwatch stops tracking localPath.
func (dw *DirtyWatcher) Unwatch(localPath string) {
	_ = dw.watcher.Remove(localPath)

	dw.mu.Lock()
	delete(dw.paths, localPath)
	delete(dw.dirty, localPath)
	dw.mu.Unlock()
}

// IsDirty reports and clears the dirty flag for localPath.
func (dw *DirtyWatcher) IsDirty(localPath string) bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	d := dw.dirty[localPath]
	delete(dw.dirty, localPath)

	return d
}

func (dw *DirtyWatcher) loop() {
	for {
		select {
		case ev, ok := <-dw.watcher.Events:
			if !ok {
				return
			}

			dw.mu.Lock()
			if _, watched := dw.paths[ev.Name]; watched {
				dw.dirty[ev.Name] = true
			} else {
				for root := range dw.paths {
					if len(ev.Name) >= len(root) && ev.Name[:len(root)] == root {
						dw.dirty[root] = true
						break
					}
				}
			}
			dw.mu.Unlock()

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}

			dw.logger.Warn("dirty watcher error", slog.Any("error", err))
		}
	}
}

// Close releases the underlying OS watch handles.
func (dw *DirtyWatcher) Close() error {
	return dw.watcher.Close()
}
