package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
)

// Watcher reports out-of-band writes in a project directory to its Tree.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	tree      *Tree
	done      chan struct{}
	stopOnce  sync.Once
}

// Watch starts watching dir, which must be the on-disk root of tree. The
// watcher stops when ctx is done or Close is called.
func Watch(ctx context.Context, dir string, tree *Tree) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsWatcher: fsWatcher,
		dir:       dir,
		tree:      tree,
		done:      make(chan struct{}),
	}
	if err := w.addRecursive(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	go w.loop(ctx)
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		err = w.fsWatcher.Close()
	})
	<-w.done
	return err
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if rel, ok := w.rel(p); ok && rel != "." && w.tree.Ignored(rel+"/x") {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(p)
	})
}

func (w *Watcher) rel(p string) (string, bool) {
	rel, err := filepath.Rel(w.dir, p)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.stopOnce.Do(func() { _ = w.fsWatcher.Close() })
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
					continue
				}
			}
			if rel, ok := w.rel(event.Name); ok {
				w.tree.NoteExternalWrite(rel)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("file watcher error", "dir", w.dir, "error", err)
		}
	}
}
