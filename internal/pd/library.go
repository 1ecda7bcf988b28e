package pd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
	"github.com/sourcegraph/conc"

	"pd-go/internal/cache"
	"pd-go/internal/catalog"
)

type libraryState int32

const (
	stateUnregistered libraryState = iota
	stateActive
	stateInvalidated
)

func (s libraryState) String() string {
	switch s {
	case stateUnregistered:
		return "unregistered"
	case stateActive:
		return "active"
	default:
		return "invalidated"
	}
}

// CatalogFileName is the catalog file inside a library cache directory.
const CatalogFileName = "catalog.json"

// previewBase is the cache artifact suffix of decoded previews.
const previewBase = "-preview.jpg"

// Library is one image library: a FileManager root, the catalog assigning
// stable file ids under it and a derived cache keyed by those ids.
//
// Catalog and sidecar state is only touched from the library's serial
// queue. File system work runs on the calling goroutine or on import and
// prefetch workers, and the catalog is updated only after it succeeded.
type Library struct {
	id        uint32
	name      string
	transient bool
	spec      FileManagerSpec
	fm        FileManager
	cacheDir  string

	registry *Registry
	decoder  Decoder
	ignorer  Ignorer
	logger   Logger
	clock    Clock
	ids      IDGenerator

	previewSize   int
	importWorkers int

	state atomic.Int32
	queue *serialQueue

	// queue-owned
	catalog  *catalog.Catalog
	sidecars map[string]*sidecarDoc
	images   map[uint32]*Image // by file id; both files of a pair map to the image

	cache     *cache.Store
	observers observerList
	imports   importTracker

	ctx         context.Context
	cancel      context.CancelFunc
	prefetchSem chan struct{}
	prefetchWG  conc.WaitGroup
}

func newLibrary(r *Registry, pl PropertyList, fm FileManager) (*Library, error) {
	opts := r.opts
	cacheDir := filepath.Join(opts.CacheRoot, fmt.Sprintf("%08x", pl.ID))
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("creating library cache directory: %w", err)
	}

	store, err := cache.NewStore(filepath.Join(cacheDir, "previews"))
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(filepath.Join(cacheDir, CatalogFileName))
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	var ign Ignorer = nopIgnorer{}
	if opts.Ignorer != nil {
		m, err := opts.Ignorer(fm)
		if err != nil {
			opts.Logger.Warn("ignore rules unavailable", "library", pl.ID, "error", err)
		} else if m != nil {
			ign = m
		}
	}

	name := pl.Name
	if name == "" {
		name = fm.Name()
	}

	ctx, cancel := context.WithCancel(context.Background())
	lib := &Library{
		id:            pl.ID,
		name:          name,
		transient:     pl.Transient,
		spec:          pl.Spec,
		fm:            fm,
		cacheDir:      cacheDir,
		registry:      r,
		decoder:       opts.Decoder,
		ignorer:       ign,
		logger:        opts.Logger,
		clock:         opts.Clock,
		ids:           opts.IDs,
		previewSize:   opts.PreviewSize,
		importWorkers: opts.ImportWorkers,
		queue:         newSerialQueue(),
		catalog:       cat,
		sidecars:      make(map[string]*sidecarDoc),
		images:        make(map[uint32]*Image),
		cache:         store,
		ctx:           ctx,
		cancel:        cancel,
		prefetchSem:   make(chan struct{}, opts.PrefetchWorkers),
	}
	return lib, nil
}

func (l *Library) ID() uint32 { return l.id }

func (l *Library) Name() string { return l.name }

// IsTransient reports whether the library stays out of the persisted registry.
func (l *Library) IsTransient() bool { return l.transient }

func (l *Library) FileManager() FileManager { return l.fm }

func (l *Library) CacheDirectory() string { return l.cacheDir }

func (l *Library) Spec() FileManagerSpec { return l.spec }

func (l *Library) IsActive() bool { return libraryState(l.state.Load()) == stateActive }

func (l *Library) String() string { return fmt.Sprintf("%d %s (%s)", l.id, l.name, l.spec) }

// PropertyList returns the persisted representation of the library.
func (l *Library) PropertyList() PropertyList {
	return PropertyList{ID: l.id, Name: l.name, Transient: l.transient, Spec: l.spec}
}

// check returns a contract error unless the library is active.
func (l *Library) check(op string) error {
	if libraryState(l.state.Load()) != stateActive {
		return contractViolation(op)
	}
	return nil
}

// background runs f on the library queue from an import or prefetch worker.
// Unlike onQueue it never treats a closed queue as a contract violation.
func (l *Library) background(f func()) error {
	if !l.queue.sync(f) {
		return ErrInvalidated
	}
	return nil
}

// onQueue runs f on the library queue.
func (l *Library) onQueue(op string, f func()) error {
	if err := l.check(op); err != nil {
		return err
	}
	if !l.queue.sync(f) {
		return contractViolation(op)
	}
	return nil
}

// UniqueIDOfFile returns the stable id of a file below the library root,
// allocating one if the file has not been seen.
func (l *Library) UniqueIDOfFile(p string) (uint32, error) {
	return l.FileIDOfRelativePath(cleanPath(p))
}

// FileIDOfRelativePath is UniqueIDOfFile for an already normalized path.
func (l *Library) FileIDOfRelativePath(p string) (uint32, error) {
	var id uint32
	err := l.onQueue("FileIDOfRelativePath", func() {
		id = l.catalog.FileIDForPath(p)
	})
	if err == nil && id == 0 {
		err = fmt.Errorf("%s: %w", p, catalog.ErrExhausted)
	}
	return id, err
}

// PathOfFileID returns the live path of a file id.
func (l *Library) PathOfFileID(id uint32) (string, bool) {
	var (
		p  string
		ok bool
	)
	l.onQueue("PathOfFileID", func() {
		p, ok = l.catalog.PathForFileID(id)
	})
	return p, ok
}

// CachePathForFileID returns the cache artifact path for (id, base). The
// mapping is deterministic, so artifacts survive tracked renames.
func (l *Library) CachePathForFileID(id uint32, base string) string {
	return l.cache.Path(id, base)
}

// CatalogStats reports the number of tracked files, the next id and how many
// entries are still provisional.
func (l *Library) CatalogStats() (files int, nextID uint32, pending int, err error) {
	err = l.onQueue("CatalogStats", func() {
		files, nextID, pending = l.catalog.Len(), l.catalog.NextID(), l.catalog.Pending()
	})
	return
}

// AddObserver registers fn for change events and returns a function that
// removes it.
func (l *Library) AddObserver(fn func(Event)) (remove func()) {
	return l.observers.add(fn)
}

func (l *Library) emit(ev Event) {
	ev.LibraryID = l.id
	l.observers.notify(ev)
}

// NotifyDirectoryChanged tells observers that dir changed outside the library.
func (l *Library) NotifyDirectoryChanged(dir string) {
	l.emit(Event{Kind: EventDirectoryChanged, Path: cleanPath(dir)})
}

// Synchronize persists the catalog if it changed and flushes dirty sidecars.
func (l *Library) Synchronize() error {
	var errs []error
	err := l.onQueue("Synchronize", func() {
		if err := l.flushSidecarsLocked(); err != nil {
			errs = append(errs, fmt.Errorf("writing sidecars: %w", err))
		}
		if err := l.catalog.SynchronizeWithContentsOfFile(l.catalogPath()); err != nil {
			errs = append(errs, fmt.Errorf("writing catalog: %w", err))
		}
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (l *Library) catalogPath() string {
	return filepath.Join(l.cacheDir, CatalogFileName)
}

// EmptyCaches deletes every derived artifact. The catalog and source images
// are untouched.
func (l *Library) EmptyCaches() error {
	if err := l.check("EmptyCaches"); err != nil {
		return err
	}
	if err := l.cache.Empty(); err != nil {
		return fmt.Errorf("emptying caches: %w", err)
	}
	l.logger.Info("caches emptied", "library", l.id)
	return nil
}

// CollectGarbage deletes cache artifacts whose file id is no longer live.
func (l *Library) CollectGarbage() (int, error) {
	var live *roaring.Bitmap
	if err := l.onQueue("CollectGarbage", func() {
		live = l.catalog.AllFileIDs()
	}); err != nil {
		return 0, err
	}
	n, err := l.cache.Purge(live)
	if err != nil {
		return n, fmt.Errorf("collecting cache garbage: %w", err)
	}
	l.logger.Info("cache garbage collected", "library", l.id, "removed", n, "live", live.GetCardinality())
	return n, nil
}

// Unmount asks the host to eject the library media. Failures are ignored.
func (l *Library) Unmount() {
	if err := l.fm.Unmount(); err != nil {
		l.logger.Debug("unmount failed", "library", l.id, "error", err)
	}
}

// FileURL returns a URL for a library-relative path.
func (l *Library) FileURL(p string) string { return l.fm.FileURL(cleanPath(p)) }

// CreateDirectory creates dir (and parents) below the root.
func (l *Library) CreateDirectory(dir string) error {
	if err := l.check("CreateDirectory"); err != nil {
		return err
	}
	dir = cleanPath(dir)
	if err := l.fm.CreateDirectory(dir); err != nil {
		return err
	}
	parent, _ := splitPath(dir)
	l.emit(Event{Kind: EventDirectoryChanged, Path: parent})
	return nil
}

// Low-level file access through the library FileManager.

func (l *Library) FileExists(p string) bool { return l.fm.FileExists(cleanPath(p)) }

func (l *Library) Stat(p string) (fs.FileInfo, error) { return l.fm.Stat(cleanPath(p)) }

func (l *Library) ContentsOfFile(p string) ([]byte, error) { return l.fm.ContentsOfFile(cleanPath(p)) }

func (l *Library) ContentsOfDirectory(dir string) ([]fs.FileInfo, error) {
	return l.fm.ContentsOfDirectory(cleanPath(dir))
}

func (l *Library) WriteData(p string, data []byte, opts WriteOptions) error {
	if err := l.check("WriteData"); err != nil {
		return err
	}
	return l.fm.WriteData(cleanPath(p), data, opts)
}

// DidRenameFile records a file rename that already happened on disk.
func (l *Library) DidRenameFile(oldPath, newPath string) error {
	oldPath, newPath = cleanPath(oldPath), cleanPath(newPath)
	var moved *Image
	err := l.onQueue("DidRenameFile", func() {
		id, ok := l.catalog.Lookup(oldPath)
		l.catalog.RenameFile(oldPath, newPath)
		if ok {
			moved = l.retargetFileLocked(id, oldPath, newPath)
		}
	})
	if err != nil {
		return err
	}
	ev := Event{Kind: EventImageMoved, Path: newPath, OldPath: oldPath}
	if moved != nil {
		ev.Image = moved.Name()
	}
	l.emit(ev)
	return nil
}

// DidRenameDirectory records a directory rename that already happened on disk.
func (l *Library) DidRenameDirectory(oldDir, newDir string) error {
	oldDir, newDir = cleanPath(oldDir), cleanPath(newDir)
	err := l.onQueue("DidRenameDirectory", func() {
		l.renameDirectoryLocked(oldDir, newDir)
	})
	if err != nil {
		return err
	}
	oldParent, _ := splitPath(oldDir)
	newParent, _ := splitPath(newDir)
	l.emit(Event{Kind: EventDirectoryChanged, Path: oldParent})
	if newParent != oldParent {
		l.emit(Event{Kind: EventDirectoryChanged, Path: newParent})
	}
	return nil
}

func (l *Library) renameDirectoryLocked(oldDir, newDir string) {
	l.catalog.RenameDirectory(oldDir, newDir)
	l.renameSidecarDirLocked(oldDir, newDir)
	seen := make(map[*Image]bool, len(l.images))
	for _, img := range l.images {
		if seen[img] {
			continue
		}
		seen[img] = true
		img.mu.Lock()
		if rest, ok := underDir(img.dir, oldDir); ok {
			img.dir = joinPath(newDir, rest)
			img.implicit = nil
		}
		img.mu.Unlock()
	}
}

// DidRemoveFileWithPath records a file removal that already happened on disk.
func (l *Library) DidRemoveFileWithPath(p string) error {
	p = cleanPath(p)
	var gone *Image
	err := l.onQueue("DidRemoveFileWithPath", func() {
		id, ok := l.catalog.Lookup(p)
		if !ok {
			return
		}
		l.catalog.RemoveFileWithPath(p)
		gone = l.detachFileLocked(id)
	})
	if err != nil {
		return err
	}
	dir, _ := splitPath(p)
	if gone != nil {
		l.emit(Event{Kind: EventImageRemoved, Path: p, Image: gone.Name()})
	}
	l.emit(Event{Kind: EventDirectoryChanged, Path: dir})
	return nil
}

// retargetFileLocked updates the image that owns file id after a rename.
func (l *Library) retargetFileLocked(id uint32, oldPath, newPath string) *Image {
	img := l.imageForFileLocked(id)
	if img == nil {
		return nil
	}
	newDir, newName := splitPath(newPath)
	img.mu.Lock()
	defer img.mu.Unlock()
	switch id {
	case img.jpegID:
		img.jpeg = newName
	case img.rawID:
		img.raw = newName
	}
	newBase := img.base
	if img.jpeg == "" || img.raw == "" {
		newBase = baseName(newName)
	}
	if newDir != img.dir || newBase != img.base {
		err := l.moveSidecarEntryLocked(img.dir, img.base, newDir, newBase)
		if errors.Is(err, fs.ErrExist) {
			// another image owns the base name; key this one by file name
			newBase = newName
			err = l.moveSidecarEntryLocked(img.dir, img.base, newDir, newBase)
		}
		if err != nil {
			l.logger.Warn("sidecar entry not moved", "from", oldPath, "to", newPath, "error", err)
		}
		img.dir, img.base = newDir, newBase
	}
	img.implicit = nil
	l.recordFileTypesLocked(img)
	return img
}

// detachFileLocked drops file id from its image and returns the image if it
// has no files left, in which case it is marked removed.
func (l *Library) detachFileLocked(id uint32) *Image {
	if err := l.cache.Remove(id); err != nil {
		l.logger.Debug("cache entries not removed", "file_id", id, "error", err)
	}
	img := l.imageForFileLocked(id)
	if img == nil {
		return nil
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	switch id {
	case img.jpegID:
		img.jpeg, img.jpegID = "", 0
		img.usesRAW = img.raw != ""
	case img.rawID:
		img.raw, img.rawID = "", 0
		img.usesRAW = false
	}
	img.implicit = nil
	if id != img.primaryID {
		delete(l.images, id)
	}
	if img.jpeg != "" || img.raw != "" {
		l.recordFileTypesLocked(img)
		return nil
	}
	img.removed = true
	delete(l.images, img.primaryID)
	if err := l.deleteSidecarEntryLocked(img.dir, img.base); err != nil {
		l.logger.Warn("sidecar entry not removed", "image", img.base, "error", err)
	}
	return img
}

func (l *Library) imageForFileLocked(id uint32) *Image {
	return l.images[id]
}

func (l *Library) imageWithID(id uint32) *Image {
	var img *Image
	l.onQueue("imageWithID", func() {
		img = l.images[id]
	})
	return img
}

// invalidate moves the library to the Invalidated state: imports and
// prefetches are cancelled and waited for, the catalog is released and the
// FileManager closed. Cancelled imports remove the files they copied before
// the FileManager goes away. It is idempotent.
func (l *Library) invalidate() {
	prev := libraryState(l.state.Swap(int32(stateInvalidated)))
	if prev == stateInvalidated {
		return
	}
	l.cancel()
	l.imports.cancelAll()
	if err := l.imports.wait(context.Background()); err != nil {
		l.logger.Warn("imports still running", "library", l.id, "error", err)
	}
	l.prefetchWG.Wait()
	l.queue.sync(func() {
		l.catalog.Invalidate()
		l.sidecars = make(map[string]*sidecarDoc)
		l.images = make(map[uint32]*Image)
	})
	l.queue.close()
	l.fm.Invalidate()
	l.logger.Debug("library invalidated", "library", l.id, "was", prev.String())
}

func (l *Library) discardCaches() error {
	if err := os.RemoveAll(l.cacheDir); err != nil {
		return fmt.Errorf("discarding cache directory: %w", err)
	}
	return nil
}
