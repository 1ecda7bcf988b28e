package testutil

import (
	"testing"

	"pd-go/internal/database"
	"pd-go/internal/pd"
)

// NewTestRegistryStore creates an in-memory SQLite registry store with the
// schema applied. The store is closed when the test completes.
func NewTestRegistryStore(t *testing.T) *database.SQLiteRegistryStore {
	t.Helper()

	store, err := database.NewSQLiteRegistryStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open registry store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Env bundles a registry with the fakes behind it.
type Env struct {
	Registry *pd.Registry
	Store    *database.SQLiteRegistryStore
	Decoder  *StubDecoder
	Clock    *StubClock
	IDs      *StubIDGenerator

	managers map[string]pd.FileManager
}

// NewEnv creates a registry whose factory hands out the managers registered
// with AddFileManager, keyed by spec path. The registry is closed when the
// test completes.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	env := &Env{
		Store:    NewTestRegistryStore(t),
		Decoder:  NewStubDecoder(),
		Clock:    FixedClock(),
		IDs:      NewStubIDGenerator(),
		managers: make(map[string]pd.FileManager),
	}
	factory := pd.FileManagerFactoryFunc(func(spec pd.FileManagerSpec) (pd.FileManager, error) {
		fm, ok := env.managers[spec.Path]
		if !ok {
			return nil, pd.NewFileError("open", spec.Path, pd.ErrNoSuchLibrary)
		}
		return fm, nil
	})
	env.Registry = pd.NewRegistry(env.Store, factory, pd.Options{
		CacheRoot:       t.TempDir(),
		Decoder:         env.Decoder,
		Clock:           env.Clock,
		IDs:             env.IDs,
		PreviewSize:     64,
		PrefetchWorkers: 2,
		ImportWorkers:   2,
	})
	t.Cleanup(func() {
		env.Registry.Close()
	})
	return env
}

// AddFileManager makes fm available to the registry under its spec path.
func (e *Env) AddFileManager(fm pd.FileManager) {
	e.managers[fm.Spec().Path] = fm
}

// Library opens the library rooted at fm, registering fm first.
func (e *Env) Library(t *testing.T, fm pd.FileManager) *pd.Library {
	t.Helper()
	e.AddFileManager(fm)
	lib, err := e.Registry.LibraryWithPath(fm.Spec(), false)
	if err != nil {
		t.Fatalf("failed to open library: %v", err)
	}
	return lib
}
