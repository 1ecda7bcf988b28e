package pd_test

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pd-go/internal/pd"
	"pd-go/internal/testutil"
)

type importFixture struct {
	env    *testutil.Env
	cardFM *testutil.MockFileManager
	card   *pd.Library
	destFM *testutil.MockFileManager
	dest   *pd.Library
}

func newImportFixture(t *testing.T, files ...string) *importFixture {
	t.Helper()
	f := &importFixture{
		env:    testutil.NewEnv(t),
		cardFM: testutil.NewMockFileManager("card"),
		destFM: testutil.NewMockFileManager("lib"),
	}
	for _, name := range files {
		f.cardFM.AddFile(name, []byte("data of "+name))
	}
	f.card = f.env.Library(t, f.cardFM)
	f.dest = f.env.Library(t, f.destFM)
	return f
}

func (f *importFixture) sources(t *testing.T, paths ...string) []*pd.Image {
	t.Helper()
	all := loadAll(t, f.card)
	out := make([]*pd.Image, len(paths))
	for i, p := range paths {
		img, ok := all[p]
		require.Truef(t, ok, "no source image at %q", p)
		out[i] = img
	}
	return out
}

func (f *importFixture) run(t *testing.T, req pd.ImportRequest) *pd.ImportOperation {
	t.Helper()
	op, err := f.dest.ImportImages(req)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	select {
	case <-op.Done():
	case <-ctx.Done():
		t.Fatal("import did not finish")
	}
	return op
}

func TestImportAssignsIDsInSubmissionOrder(t *testing.T) {
	f := newImportFixture(t, "c.jpg", "a.jpg", "b.jpg")
	rec := record(t, f.dest)

	op := f.run(t, pd.ImportRequest{
		Images:      f.sources(t, "c.jpg", "a.jpg", "b.jpg"),
		ToDirectory: "2024",
	})
	require.NoError(t, op.Err())

	imported := op.Imported()
	require.Len(t, imported, 3)
	var paths []string
	var ids []uint32
	for _, img := range imported {
		paths = append(paths, img.Path())
		ids = append(ids, img.FileID())
	}
	assert.Equal(t, []string{"2024/c.jpg", "2024/a.jpg", "2024/b.jpg"}, paths)
	assert.Equal(t, []uint32{1, 2, 3}, ids)

	data, err := f.destFM.MemoryFileManager.ContentsOfFile("2024/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "data of a.jpg", string(data))
	assert.True(t, f.cardFM.MemoryFileManager.FileExists("a.jpg"), "sources are kept by default")

	ev, ok := rec.first(pd.EventImportFinished)
	require.True(t, ok)
	assert.Same(t, op, ev.Operation)
	assert.Empty(t, f.dest.ActiveImports())
	assert.Zero(t, op.Duration(), "the stub clock does not advance")
}

func TestImportNaming(t *testing.T) {
	t.Run("existing names get a numeric suffix", func(t *testing.T) {
		f := newImportFixture(t, "a.jpg")
		f.destFM.AddFile("in/a.jpg", []byte("old"))

		op := f.run(t, pd.ImportRequest{Images: f.sources(t, "a.jpg"), ToDirectory: "in"})
		require.NoError(t, op.Err())
		assert.Equal(t, "in/a_1.jpg", op.Imported()[0].Path())
		data, _ := f.destFM.MemoryFileManager.ContentsOfFile("in/a.jpg")
		assert.Equal(t, "old", string(data))
	})

	t.Run("names claimed within the batch", func(t *testing.T) {
		f := newImportFixture(t, "x/a.jpg", "y/a.jpg")
		op := f.run(t, pd.ImportRequest{Images: f.sources(t, "x/a.jpg", "y/a.jpg"), ToDirectory: "in"})
		require.NoError(t, op.Err())
		imported := op.Imported()
		require.Len(t, imported, 2)
		assert.Equal(t, "in/a.jpg", imported[0].Path())
		assert.Equal(t, "in/a_1.jpg", imported[1].Path())
	})

	t.Run("raw next to a jpeg of the same base name", func(t *testing.T) {
		f := newImportFixture(t, "IMG.nef")
		f.destFM.AddFile("d/IMG.jpg", nil)
		resident := loadAll(t, f.dest)["d/IMG.jpg"]
		residentUUID, err := resident.UUID()
		require.NoError(t, err)

		op := f.run(t, pd.ImportRequest{Images: f.sources(t, "IMG.nef"), ToDirectory: "d"})
		require.NoError(t, op.Err())
		img := op.Imported()[0]
		assert.Equal(t, "d/IMG_1.nef", img.Path())
		importedUUID, ok := img.UUIDIfDefined()
		require.True(t, ok)

		require.NoError(t, f.dest.Synchronize())
		assert.Equal(t, residentUUID, sidecarUUID(t, f.destFM, "d", "IMG"))
		assert.Equal(t, importedUUID, sidecarUUID(t, f.destFM, "d", "IMG_1"))
		assert.NotEqual(t, residentUUID, importedUUID)
	})

	t.Run("names only in the sidecar are taken", func(t *testing.T) {
		f := newImportFixture(t, "b.jpg")
		f.destFM.AddFile("d/"+pd.SidecarName, []byte(`{"version":1,"images":{"b":{"uuid":"kept"}}}`))

		op := f.run(t, pd.ImportRequest{Images: f.sources(t, "b.jpg"), ToDirectory: "d"})
		require.NoError(t, op.Err())
		assert.Equal(t, "d/b_1.jpg", op.Imported()[0].Path())
	})

	t.Run("filename map", func(t *testing.T) {
		f := newImportFixture(t, "a.jpg", "a.cr2")
		op := f.run(t, pd.ImportRequest{
			Images:      f.sources(t, "a.jpg"),
			ToDirectory: "in",
			FilenameMap: func(src *pd.Image, name string) string { return "trip-" + name },
		})
		require.NoError(t, op.Err())
		img := op.Imported()[0]
		assert.Equal(t, "trip-a.jpg", img.JPEGFile())
		assert.Equal(t, "trip-a.cr2", img.RAWFile())
	})
}

func TestImportFileTypes(t *testing.T) {
	t.Run("preferred raw", func(t *testing.T) {
		f := newImportFixture(t, "a.jpg", "a.cr2")
		op := f.run(t, pd.ImportRequest{Images: f.sources(t, "a.jpg"), ToDirectory: "in", PreferredType: pd.TypeRAW})
		require.NoError(t, op.Err())
		img := op.Imported()[0]
		assert.True(t, img.UsesRAW())
		assert.Equal(t, "in/a.cr2", img.Path())
	})

	t.Run("jpeg only", func(t *testing.T) {
		f := newImportFixture(t, "a.jpg", "a.cr2")
		op := f.run(t, pd.ImportRequest{Images: f.sources(t, "a.jpg"), ToDirectory: "in", FileTypes: pd.TypeJPEG})
		require.NoError(t, op.Err())
		img := op.Imported()[0]
		assert.Empty(t, img.RAWFile())
		assert.False(t, f.destFM.MemoryFileManager.FileExists("in/a.cr2"))
	})

	t.Run("no matching file", func(t *testing.T) {
		f := newImportFixture(t, "a.jpg")
		op := f.run(t, pd.ImportRequest{Images: f.sources(t, "a.jpg"), ToDirectory: "in", FileTypes: pd.TypeRAW})
		assert.ErrorIs(t, op.Err(), pd.ErrUnsupportedType)
		assert.Empty(t, op.Imported())
	})
}

func TestImportProperties(t *testing.T) {
	f := newImportFixture(t, "a.jpg")
	src := f.sources(t, "a.jpg")[0]
	require.NoError(t, src.SetProperty(pd.KeyCaption, pd.StringValue("from the card")))
	srcUUID, err := src.UUID()
	require.NoError(t, err)

	op := f.run(t, pd.ImportRequest{
		Images:      []*pd.Image{src},
		ToDirectory: "in",
		Properties:  map[string]pd.Value{pd.KeyRating: pd.IntValue(2), "Event": pd.StringValue("wedding")},
	})
	require.NoError(t, op.Err())
	img := op.Imported()[0]

	assert.Equal(t, 2, img.Rating())
	assert.Equal(t, "from the card", img.Caption())
	v, ok := img.PropertyForKey("Event")
	require.True(t, ok)
	assert.Equal(t, "wedding", v.String())
	uuid, ok := img.UUIDIfDefined()
	require.True(t, ok)
	assert.NotEqual(t, srcUUID, uuid)
}

func TestImportDeleteSourceFiles(t *testing.T) {
	f := newImportFixture(t, "a.jpg", "a.cr2")
	src := f.sources(t, "a.jpg")[0]

	op := f.run(t, pd.ImportRequest{Images: []*pd.Image{src}, ToDirectory: "in", DeleteSourceFiles: true})
	require.NoError(t, op.Err())

	assert.True(t, src.IsRemoved())
	assert.False(t, f.cardFM.MemoryFileManager.FileExists("a.jpg"))
	assert.False(t, f.cardFM.MemoryFileManager.FileExists("a.cr2"))
	assert.True(t, f.destFM.MemoryFileManager.FileExists("in/a.cr2"))
}

func TestImportItemFailure(t *testing.T) {
	f := newImportFixture(t, "a.jpg", "b.jpg", "c.jpg")
	f.destFM.FailOn("WriteData", "in/b.jpg", fs.ErrPermission)

	op := f.run(t, pd.ImportRequest{Images: f.sources(t, "a.jpg", "b.jpg", "c.jpg"), ToDirectory: "in"})

	var be *pd.BatchError
	require.ErrorAs(t, op.Err(), &be)
	require.Len(t, be.Items, 1)
	assert.Equal(t, 1, be.Items[0].Index)
	assert.ErrorIs(t, op.Err(), fs.ErrPermission)

	results := op.Results()
	require.Len(t, results, 3)
	assert.Nil(t, results[1].Image)
	assert.Equal(t, uint32(1), results[0].Image.FileID())
	assert.Equal(t, uint32(2), results[2].Image.FileID())
}

func TestImportBatchesRunInOrder(t *testing.T) {
	f := newImportFixture(t, "a.jpg", "b.jpg", "c.jpg")
	src := f.sources(t, "a.jpg", "b.jpg", "c.jpg")

	first, err := f.dest.ImportImages(pd.ImportRequest{Images: src[:2], ToDirectory: "one"})
	require.NoError(t, err)
	second, err := f.dest.ImportImages(pd.ImportRequest{Images: src[2:], ToDirectory: "two"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, f.dest.WaitForImportsToComplete(ctx))
	require.NoError(t, second.Wait(ctx))

	for _, img := range first.Imported() {
		assert.Less(t, img.FileID(), second.Imported()[0].FileID())
	}
	assert.NotEqual(t, first.ID, second.ID)
}

func TestImportIntoRemovedLibrary(t *testing.T) {
	f := newImportFixture(t, "a.jpg")
	src := f.sources(t, "a.jpg")
	require.NoError(t, f.env.Registry.Remove(f.dest))

	_, err := f.dest.ImportImages(pd.ImportRequest{Images: src, ToDirectory: "in"})
	assert.ErrorIs(t, err, pd.ErrInvalidated)
}

func TestRemovingLibraryMidImportRemovesCopies(t *testing.T) {
	f := newImportFixture(t, "a.jpg", "b.jpg")
	src := f.sources(t, "a.jpg", "b.jpg")
	f.destFM.KeepOpenOnInvalidate()
	release := f.destFM.BlockOn("WriteData", "in/b.jpg")
	defer release()

	op, err := f.dest.ImportImages(pd.ImportRequest{Images: src, ToDirectory: "in"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.destFM.Calls("WriteData") == 2 }, 5*time.Second, time.Millisecond)

	removed := make(chan error, 1)
	go func() { removed <- f.env.Registry.Remove(f.dest) }()
	require.Eventually(t, func() bool { return !f.dest.IsActive() }, 5*time.Second, time.Millisecond)
	select {
	case <-op.Done():
		t.Fatal("import finished while a copy was blocked")
	default:
	}
	release()

	select {
	case err := <-removed:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("remove did not return")
	}
	<-op.Done()

	for _, r := range op.Results() {
		assert.ErrorIs(t, r.Err, pd.ErrInvalidated)
		assert.Nil(t, r.Image)
	}
	assert.False(t, f.destFM.MemoryFileManager.FileExists("in/a.jpg"))
	assert.False(t, f.destFM.MemoryFileManager.FileExists("in/b.jpg"))
	assert.True(t, f.cardFM.MemoryFileManager.FileExists("a.jpg"), "sources are untouched")
}
