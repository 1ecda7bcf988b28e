// Package watch reports changes made to a local library behind its back.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pd-go/internal/pd"
)

// DefaultDebounce is how long directory change notifications are coalesced.
const DefaultDebounce = 250 * time.Millisecond

// ErrNotLocal is returned for libraries that are not rooted on the local
// filesystem.
var ErrNotLocal = errors.New("library is not on the local filesystem")

// Options configures a Watcher.
type Options struct {
	// Debounce coalesces directory change notifications. Zero notifies
	// immediately.
	Debounce time.Duration
	Logger   pd.Logger
}

// Watcher forwards filesystem events under a library root to the library.
// Files removed or renamed away are dropped from the catalog through
// DidRemoveFileWithPath; creations and writes become directory change
// notifications.
type Watcher struct {
	lib      *pd.Library
	root     string
	w        *fsnotify.Watcher
	debounce time.Duration
	logger   pd.Logger

	mu      sync.Mutex
	dirs    map[string]bool // watched library-relative directories
	pending map[string]bool
	timer   *time.Timer
}

// New starts watching every directory below the root of lib.
func New(lib *pd.Library, opts Options) (*Watcher, error) {
	spec := lib.Spec()
	if spec.Type != pd.SpecLocal {
		return nil, fmt.Errorf("watching %s: %w", spec, ErrNotLocal)
	}
	if opts.Logger == nil {
		opts.Logger = pd.NewNopLogger()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w := &Watcher{
		lib:      lib,
		root:     spec.Path,
		w:        fw,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		dirs:     make(map[string]bool),
		pending:  make(map[string]bool),
	}
	if err := w.addRecursive(w.root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Directories returns the watched library-relative directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	dirs := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		dirs = append(dirs, d)
	}
	slices.Sort(dirs)
	return dirs
}

// Run delivers events until ctx is done, then flushes pending notifications
// and closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "library", w.lib.ID(), "error", err)
		}
	}
}

func (w *Watcher) close() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	w.flush()
	if err := w.w.Close(); err != nil {
		w.logger.Debug("closing fsnotify watcher failed", "error", err)
	}
}

// rel converts an absolute path to a library-relative one. ok is false for
// paths outside the root and for hidden or temporary names.
func (w *Watcher) rel(abs string) (string, bool) {
	r, err := filepath.Rel(w.root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	if r == "." {
		return "", true
	}
	r = filepath.ToSlash(r)
	for _, part := range strings.Split(r, "/") {
		if strings.HasPrefix(part, ".") {
			return "", false
		}
	}
	return r, true
}

func parent(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return fmt.Errorf("walking %s: %w", p, err)
			}
			w.logger.Debug("skipping unreadable directory", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		r, ok := w.rel(p)
		if !ok {
			return filepath.SkipDir
		}
		if err := w.w.Add(p); err != nil {
			if p == dir {
				return fmt.Errorf("watching %s: %w", p, err)
			}
			w.logger.Warn("directory not watched", "path", p, "error", err)
			return nil
		}
		w.mu.Lock()
		w.dirs[r] = true
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) handle(ev fsnotify.Event) {
	r, ok := w.rel(ev.Name)
	if !ok || r == "" {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.mu.Lock()
		wasDir := w.dirs[r]
		if wasDir {
			for d := range w.dirs {
				if d == r || strings.HasPrefix(d, r+"/") {
					delete(w.dirs, d)
				}
			}
		}
		w.mu.Unlock()
		if wasDir {
			w.logger.Debug("watched directory went away", "path", r)
			w.changed(parent(r))
			return
		}
		if err := w.lib.DidRemoveFileWithPath(r); err != nil {
			w.logger.Warn("recording removal failed", "path", r, "error", err)
		}

	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("new directory not watched", "path", r, "error", err)
			}
		}
		w.changed(parent(r))

	case ev.Has(fsnotify.Write):
		w.changed(parent(r))
	}
}

// changed schedules a directory change notification for dir.
func (w *Watcher) changed(dir string) {
	if w.debounce <= 0 {
		w.lib.NotifyDirectoryChanged(dir)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[dir] = true
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flush)
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	dirs := make([]string, 0, len(w.pending))
	for d := range w.pending {
		dirs = append(dirs, d)
	}
	w.pending = make(map[string]bool)
	w.timer = nil
	w.mu.Unlock()

	slices.Sort(dirs)
	for _, d := range dirs {
		w.lib.NotifyDirectoryChanged(d)
	}
}
