package pd

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// PropertyList is the persisted representation of a library. It lets the
// same library id be re-associated with its root across restarts.
type PropertyList struct {
	ID        uint32          `json:"id"`
	Name      string          `json:"name"`
	Transient bool            `json:"transient,omitempty"`
	Spec      FileManagerSpec `json:"spec"`
}

// RegistryStore persists library property lists and the library id counter.
type RegistryStore interface {
	// NextLibraryID allocates and persists the next library id. Ids are
	// never reused.
	NextLibraryID() (uint32, error)

	// SaveLibrary inserts or replaces a property list.
	SaveLibrary(pl PropertyList) error

	// DeleteLibrary removes a property list. Deleting a missing id is not an error.
	DeleteLibrary(id uint32) error

	// ListLibraries returns every persisted property list ordered by id.
	ListLibraries() ([]PropertyList, error)
}

// Options configures the libraries a Registry creates.
type Options struct {
	// CacheRoot holds one cache directory per library.
	CacheRoot string

	Decoder Decoder
	Ignorer IgnorerFactory
	Logger  Logger
	Clock   Clock
	IDs     IDGenerator

	// PreviewSize is the longest edge of cached previews in pixels.
	PreviewSize int
	// PrefetchWorkers bounds concurrent prefetch tasks per library.
	PrefetchWorkers int
	// ImportWorkers bounds concurrent file copies within one import batch.
	ImportWorkers int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = NewNopLogger()
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	if o.IDs == nil {
		o.IDs = UUIDGenerator{}
	}
	if o.PreviewSize <= 0 {
		o.PreviewSize = 1024
	}
	if o.PrefetchWorkers <= 0 {
		o.PrefetchWorkers = 4
	}
	if o.ImportWorkers <= 0 {
		o.ImportWorkers = 4
	}
	return o
}

// Registry is the process-wide set of active libraries. It allocates library
// ids and resolves the library id held by an Image back to its Library.
type Registry struct {
	store   RegistryStore
	factory FileManagerFactory
	opts    Options
	logger  Logger

	mu        sync.Mutex
	libraries map[uint32]*Library
}

// NewRegistry creates an empty registry. Call Load to restore persisted libraries.
func NewRegistry(store RegistryStore, factory FileManagerFactory, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		store:     store,
		factory:   factory,
		opts:      opts,
		logger:    opts.Logger,
		libraries: make(map[uint32]*Library),
	}
}

// Load activates every persisted library. Libraries whose root cannot be
// opened are skipped and reported in the returned error.
func (r *Registry) Load() error {
	pls, err := r.store.ListLibraries()
	if err != nil {
		return fmt.Errorf("listing libraries: %w", err)
	}

	var errs []error
	for _, pl := range pls {
		if _, err := r.LibraryWithPropertyList(pl); err != nil {
			r.logger.Warn("library could not be loaded", "library", pl.ID, "location", pl.Spec.String(), "error", err)
			errs = append(errs, fmt.Errorf("library %d: %w", pl.ID, err))
		}
	}
	return errors.Join(errs...)
}

// LibraryWithPath returns the active library whose root matches spec. When
// none exists and onlyIfExists is false, a new library is created with a
// freshly allocated id and persisted unless it is transient. The file
// manager is opened without holding the registry lock, so lookups are not
// stalled by a slow dial.
func (r *Registry) LibraryWithPath(spec FileManagerSpec, onlyIfExists bool) (*Library, error) {
	if lib := r.libraryWithSpec(spec); lib != nil || onlyIfExists {
		return lib, nil
	}

	fm, err := r.factory.NewFileManager(spec)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", spec, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if lib := r.libraryWithSpecLocked(spec); lib != nil {
		r.discardLocked(fm, lib)
		return lib, nil
	}

	id, err := r.store.NextLibraryID()
	if err != nil {
		fm.Invalidate()
		return nil, fmt.Errorf("allocating library id: %w", err)
	}

	pl := PropertyList{
		ID:        id,
		Name:      fm.Name(),
		Transient: spec.Transient || fm.Removable(),
		Spec:      spec,
	}
	lib, err := newLibrary(r, pl, fm)
	if err != nil {
		fm.Invalidate()
		return nil, err
	}
	if !pl.Transient {
		if err := r.store.SaveLibrary(pl); err != nil {
			lib.invalidate()
			return nil, fmt.Errorf("saving library: %w", err)
		}
	}

	r.activateLocked(lib)
	r.logger.Info("library created", "library", id, "location", spec.String(), "transient", pl.Transient)
	return lib, nil
}

func (r *Registry) libraryWithSpec(spec FileManagerSpec) *Library {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.libraryWithSpecLocked(spec)
}

func (r *Registry) libraryWithSpecLocked(spec FileManagerSpec) *Library {
	for _, id := range slices.Sorted(maps.Keys(r.libraries)) {
		if lib := r.libraries[id]; lib.spec.Equal(spec) {
			return lib
		}
	}
	return nil
}

// discardLocked closes a file manager opened for a library that another
// caller activated in the meantime.
func (r *Registry) discardLocked(fm FileManager, winner *Library) {
	if fm != winner.fm {
		fm.Invalidate()
	}
}

// LibraryWithPropertyList re-associates a persisted property list with an
// active library, creating it if needed.
func (r *Registry) LibraryWithPropertyList(pl PropertyList) (*Library, error) {
	if pl.ID == 0 {
		return nil, fmt.Errorf("property list has no library id")
	}
	if lib := r.LibraryWithID(pl.ID); lib != nil {
		return lib, nil
	}

	fm, err := r.factory.NewFileManager(pl.Spec)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", pl.Spec, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if lib, ok := r.libraries[pl.ID]; ok {
		r.discardLocked(fm, lib)
		return lib, nil
	}
	lib, err := newLibrary(r, pl, fm)
	if err != nil {
		fm.Invalidate()
		return nil, err
	}
	r.activateLocked(lib)
	return lib, nil
}

func (r *Registry) activateLocked(lib *Library) {
	lib.state.Store(int32(stateActive))
	r.libraries[lib.id] = lib
}

// LibraryWithID returns the active library with id, or nil.
func (r *Registry) LibraryWithID(id uint32) *Library {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.libraries[id]
}

// AllLibraries returns the active libraries ordered by id.
func (r *Registry) AllLibraries() []*Library {
	r.mu.Lock()
	defer r.mu.Unlock()
	libs := make([]*Library, 0, len(r.libraries))
	for _, id := range slices.Sorted(maps.Keys(r.libraries)) {
		libs = append(libs, r.libraries[id])
	}
	return libs
}

// ImageWithName resolves an ImageName to a live image the library has seen.
func (r *Registry) ImageWithName(name ImageName) *Image {
	lib := r.LibraryWithID(name.LibraryID)
	if lib == nil {
		return nil
	}
	return lib.imageWithID(name.ImageID)
}

// Remove invalidates lib, discards its cache and catalog and deletes its
// persisted property list. Callers that need in-flight imports to finish
// first should call WaitForImportsToComplete.
func (r *Registry) Remove(lib *Library) error {
	r.mu.Lock()
	if r.libraries[lib.id] == lib {
		delete(r.libraries, lib.id)
	}
	r.mu.Unlock()

	lib.invalidate()
	var errs []error
	if err := lib.discardCaches(); err != nil {
		errs = append(errs, err)
	}
	if err := r.store.DeleteLibrary(lib.id); err != nil {
		errs = append(errs, fmt.Errorf("deleting library %d: %w", lib.id, err))
	}
	r.logger.Info("library removed", "library", lib.id, "location", lib.spec.String())
	return errors.Join(errs...)
}

// RemoveInvalidLibraries removes every library whose root is no longer
// reachable and returns their ids.
func (r *Registry) RemoveInvalidLibraries() ([]uint32, error) {
	var removed []uint32
	var errs []error
	for _, lib := range r.AllLibraries() {
		if lib.fm.FileExists("") {
			continue
		}
		if err := r.Remove(lib); err != nil {
			errs = append(errs, err)
		}
		removed = append(removed, lib.id)
	}
	return removed, errors.Join(errs...)
}

// Save persists the property list of every non-transient library.
func (r *Registry) Save() error {
	var errs []error
	for _, lib := range r.AllLibraries() {
		if lib.transient {
			continue
		}
		if err := r.store.SaveLibrary(lib.PropertyList()); err != nil {
			errs = append(errs, fmt.Errorf("saving library %d: %w", lib.id, err))
		}
	}
	return errors.Join(errs...)
}

// Close synchronizes and invalidates every library without removing them.
func (r *Registry) Close() error {
	var errs []error
	for _, lib := range r.AllLibraries() {
		if err := lib.Synchronize(); err != nil {
			errs = append(errs, fmt.Errorf("synchronizing library %d: %w", lib.id, err))
		}
	}
	if err := r.Save(); err != nil {
		errs = append(errs, err)
	}

	r.mu.Lock()
	libs := slices.Collect(maps.Values(r.libraries))
	r.libraries = make(map[uint32]*Library)
	r.mu.Unlock()

	for _, lib := range libs {
		lib.invalidate()
	}
	return errors.Join(errs...)
}
