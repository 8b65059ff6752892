package devserver

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watcher reports changes anywhere below a root directory. fsnotify only
// watches single directories, so every directory is added as it is found.
type watcher struct {
	fs     *fsnotify.Watcher
	root   string
	ignore func(path string) bool
}

func newWatcher(root string, ignore func(path string) bool) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &watcher{fs: fw, root: root, ignore: ignore}
	if err := w.addTree(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// directories can vanish between the event and the walk
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignore(path) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return err
		}
		log.Debug().Str("dir", path).Msg("Watching directory")
		return nil
	})
}

// run calls changed for every relevant event until ctx is done or the
// watcher is closed.
func (w *watcher) run(ctx context.Context, changed func(path string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if w.ignore(ev.Name) {
				continue
			}

			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						log.Warn().Err(err).Str("dir", ev.Name).Msg("Failed to watch new directory")
					}
				}
			}

			log.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("Source changed")
			changed(ev.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *watcher) Close() error {
	return w.fs.Close()
}

// ignoreFunc skips dependency directories, dot directories and files, and
// anything inside the given output directories.
func ignoreFunc(root string, outputs ...string) func(path string) bool {
	return func(path string) bool {
		for _, out := range outputs {
			if path == out || strings.HasPrefix(path, out+string(filepath.Separator)) {
				return true
			}
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return false
		}
		for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
			if part == "node_modules" || strings.HasPrefix(part, ".") {
				return true
			}
		}
		return false
	}
}
