package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pdfs "pd-go/internal/fs"
	"pd-go/internal/pd"
	"pd-go/internal/testutil"
)

func newLocalLibrary(t *testing.T) (*pd.Library, string) {
	t.Helper()
	root := t.TempDir()
	fm, err := pdfs.NewLocalFileManager(root)
	require.NoError(t, err)
	env := testutil.NewEnv(t)
	return env.Library(t, fm), fm.Root()
}

func collect(lib *pd.Library) (<-chan pd.Event, func()) {
	ch := make(chan pd.Event, 64)
	remove := lib.AddObserver(func(ev pd.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch, remove
}

func waitFor(t *testing.T, ch <-chan pd.Event, match func(pd.Event) bool) pd.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return pd.Event{}
		}
	}
}

func start(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestNewRejectsNonLocalLibrary(t *testing.T) {
	env := testutil.NewEnv(t)
	lib := env.Library(t, testutil.NewMockFileManager("mem"))

	_, err := New(lib, Options{})
	require.ErrorIs(t, err, ErrNotLocal)
}

func TestNewWatchesVisibleDirectories(t *testing.T) {
	lib, root := newLocalLibrary(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "2024", "summer"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".trash", "old"), 0755))

	w, err := New(lib, Options{})
	require.NoError(t, err)
	defer w.close()

	assert.Equal(t, []string{"", "2024", "2024/summer"}, w.Directories())
}

func TestExternalRemovalDropsImage(t *testing.T) {
	lib, root := newLocalLibrary(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "beach.jpg"), testutil.StubImage(40, 30, 1), 0644))

	var img *pd.Image
	require.NoError(t, lib.LoadImagesInSubdirectory(context.Background(), "", false, func(i *pd.Image) { img = i }))
	require.NotNil(t, img)
	id := img.FileID()

	w, err := New(lib, Options{})
	require.NoError(t, err)
	events, remove := collect(lib)
	defer remove()
	start(t, w)

	require.NoError(t, os.Remove(filepath.Join(root, "beach.jpg")))

	ev := waitFor(t, events, func(ev pd.Event) bool { return ev.Kind == pd.EventImageRemoved })
	assert.Equal(t, "beach.jpg", ev.Path)
	assert.Equal(t, img.Name(), ev.Image)
	assert.True(t, img.IsRemoved())

	_, ok := lib.PathOfFileID(id)
	assert.False(t, ok)
}

func TestCreationNotifiesParentDirectory(t *testing.T) {
	lib, root := newLocalLibrary(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "inbox"), 0755))

	w, err := New(lib, Options{Debounce: 10 * time.Millisecond})
	require.NoError(t, err)
	events, remove := collect(lib)
	defer remove()
	start(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(root, "inbox", "new.jpg"), []byte("x"), 0644))

	ev := waitFor(t, events, func(ev pd.Event) bool { return ev.Kind == pd.EventDirectoryChanged })
	assert.Equal(t, "inbox", ev.Path)
}

func TestNewDirectoriesAreWatched(t *testing.T) {
	lib, root := newLocalLibrary(t)

	w, err := New(lib, Options{})
	require.NoError(t, err)
	events, remove := collect(lib)
	defer remove()
	start(t, w)

	require.NoError(t, os.Mkdir(filepath.Join(root, "trip"), 0755))
	assert.Eventually(t, func() bool {
		return len(w.Directories()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "trip", "a.jpg"), []byte("x"), 0644))
	waitFor(t, events, func(ev pd.Event) bool {
		return ev.Kind == pd.EventDirectoryChanged && ev.Path == "trip"
	})
}

func TestRelSkipsHiddenAndOutsidePaths(t *testing.T) {
	w := &Watcher{root: filepath.FromSlash("/lib")}

	tests := []struct {
		abs  string
		want string
		ok   bool
	}{
		{"/lib", "", true},
		{"/lib/a/b.jpg", "a/b.jpg", true},
		{"/lib/.tmp-123", "", false},
		{"/lib/a/.hidden/b.jpg", "", false},
		{"/other/b.jpg", "", false},
	}
	for _, tt := range tests {
		got, ok := w.rel(filepath.FromSlash(tt.abs))
		assert.Equal(t, tt.ok, ok, tt.abs)
		assert.Equal(t, tt.want, got, tt.abs)
	}
}
