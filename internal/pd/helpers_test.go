package pd_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"pd-go/internal/pd"
	"pd-go/internal/testutil"
)

func newLibrary(t *testing.T, name string) (*testutil.Env, *testutil.MockFileManager, *pd.Library) {
	t.Helper()
	env := testutil.NewEnv(t)
	fm := testutil.NewMockFileManager(name)
	return env, fm, env.Library(t, fm)
}

// loadAll scans the whole library and returns the images keyed by active path.
func loadAll(t *testing.T, lib *pd.Library) map[string]*pd.Image {
	t.Helper()
	images := make(map[string]*pd.Image)
	err := lib.LoadImagesInSubdirectory(context.Background(), "", true, func(img *pd.Image) {
		images[img.Path()] = img
	})
	require.NoError(t, err)
	return images
}

func imageAt(t *testing.T, lib *pd.Library, p string) *pd.Image {
	t.Helper()
	img, ok := loadAll(t, lib)[p]
	require.Truef(t, ok, "no image at %q", p)
	return img
}

type recorder struct {
	mu     sync.Mutex
	events []pd.Event
}

func record(t *testing.T, lib *pd.Library) *recorder {
	r := &recorder{}
	remove := lib.AddObserver(func(ev pd.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	t.Cleanup(remove)
	return r
}

func (r *recorder) kinds() []pd.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pd.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) first(kind pd.EventKind) (pd.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return pd.Event{}, false
}
