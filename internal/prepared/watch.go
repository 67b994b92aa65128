package prepared

import (
	"context"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the store index when the prepared base directory changes
// on disk. Folders can be dropped in or removed by hand; the watcher keeps
// listings honest without a rescan on every request.
//
// fsnotify does not recurse, so each rotation folder gets its own watch.
// Descriptor edits inside a folder then surface as events too.
type Watcher struct {
	log     *slog.Logger
	store   *Store
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the store's base directory and every rotation
// folder already inside it.
func NewWatcher(store *Store, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(store.BaseDir()); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{log: log, store: store, watcher: fsw}
	w.watchFolders()
	return w, nil
}

// Run consumes filesystem events until the context is cancelled. It blocks
// and is meant to be launched in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			w.log.Debug("prepared base changed",
				slog.String("path", event.Name),
				slog.String("op", event.Op.String()),
			)
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						w.log.Warn("watching new prepared folder failed",
							slog.String("path", event.Name),
							slog.String("error", err.Error()),
						)
					}
				}
			}
			if err := w.store.Reload(); err != nil {
				w.log.Warn("reloading prepared index failed",
					slog.String("error", err.Error()),
				)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("prepared watcher error", slog.String("error", err.Error()))
		}
	}
}

// watchFolders adds a watch for every current rotation folder. Watches on
// removed folders are dropped by fsnotify itself.
func (w *Watcher) watchFolders() {
	for _, rot := range w.store.List() {
		dir, err := w.store.Folder(rot.Slug)
		if err != nil {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.log.Warn("watching prepared folder failed",
				slog.String("slug", rot.Slug),
				slog.String("error", err.Error()),
			)
		}
	}
}

// relevant filters to events that can change the folder set or a
// descriptor. Chmod noise is ignored.
func relevant(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0
}
