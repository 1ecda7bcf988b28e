package fs

import (
	"bytes"
	"errors"
	"io/fs"
	"slices"
	"testing"

	"pd-go/internal/pd"
)

// names returns the sorted entry names of dir.
func names(t *testing.T, fm pd.FileManager, dir string) []string {
	t.Helper()
	infos, err := fm.ContentsOfDirectory(dir)
	if err != nil {
		t.Fatalf("ContentsOfDirectory(%q) error = %v", dir, err)
	}
	var out []string
	for _, info := range infos {
		out = append(out, info.Name())
	}
	slices.Sort(out)
	return out
}

func mustWrite(t *testing.T, fm pd.FileManager, p, data string) {
	t.Helper()
	if err := fm.WriteData(p, []byte(data), pd.WriteOptions{}); err != nil {
		t.Fatalf("WriteData(%q) error = %v", p, err)
	}
}

func mustRead(t *testing.T, fm pd.FileManager, p string) string {
	t.Helper()
	data, err := fm.ContentsOfFile(p)
	if err != nil {
		t.Fatalf("ContentsOfFile(%q) error = %v", p, err)
	}
	return string(data)
}

// testFileManager exercises the behaviour every FileManager shares.
func testFileManager(t *testing.T, fm pd.FileManager) {
	t.Run("write and read", func(t *testing.T) {
		mustWrite(t, fm, "a/one.jpg", "one")
		if got := mustRead(t, fm, "a/one.jpg"); got != "one" {
			t.Errorf("ContentsOfFile() = %q, want %q", got, "one")
		}
		if !fm.FileExists("a/one.jpg") {
			t.Error("FileExists() = false, want true")
		}
		info, err := fm.Stat("a")
		if err != nil {
			t.Fatalf("Stat(dir) error = %v", err)
		}
		if !info.IsDir() {
			t.Error("Stat(dir).IsDir() = false, want true")
		}
	})

	t.Run("atomic write replaces", func(t *testing.T) {
		mustWrite(t, fm, "b/x.jpg", "old")
		if err := fm.WriteData("b/x.jpg", []byte("new"), pd.WriteOptions{Atomic: true}); err != nil {
			t.Fatalf("WriteData(atomic) error = %v", err)
		}
		if got := mustRead(t, fm, "b/x.jpg"); got != "new" {
			t.Errorf("ContentsOfFile() = %q, want %q", got, "new")
		}
		if got := names(t, fm, "b"); !slices.Equal(got, []string{"x.jpg"}) {
			t.Errorf("directory = %v, want only x.jpg", got)
		}
	})

	t.Run("no overwrite", func(t *testing.T) {
		mustWrite(t, fm, "c/x.jpg", "old")
		err := fm.WriteData("c/x.jpg", []byte("new"), pd.WriteOptions{NoOverwrite: true})
		if !errors.Is(err, fs.ErrExist) {
			t.Fatalf("WriteData(no overwrite) error = %v, want fs.ErrExist", err)
		}
		var fe *pd.FileError
		if !errors.As(err, &fe) {
			t.Errorf("error type = %T, want *pd.FileError", err)
		}
		if got := mustRead(t, fm, "c/x.jpg"); got != "old" {
			t.Errorf("ContentsOfFile() = %q, want %q", got, "old")
		}
	})

	t.Run("stat missing", func(t *testing.T) {
		_, err := fm.Stat("missing/file.jpg")
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Stat(missing) error = %v, want fs.ErrNotExist", err)
		}
		if fm.FileExists("missing/file.jpg") {
			t.Error("FileExists(missing) = true, want false")
		}
	})

	t.Run("list directory", func(t *testing.T) {
		mustWrite(t, fm, "d/b.jpg", "b")
		mustWrite(t, fm, "d/a.jpg", "a")
		mustWrite(t, fm, "d/sub/c.jpg", "c")
		want := []string{"a.jpg", "b.jpg", "sub"}
		if got := names(t, fm, "d"); !slices.Equal(got, want) {
			t.Errorf("ContentsOfDirectory() = %v, want %v", got, want)
		}
	})

	t.Run("create directory", func(t *testing.T) {
		if err := fm.CreateDirectory("e/f"); err != nil {
			t.Fatalf("CreateDirectory() error = %v", err)
		}
		info, err := fm.Stat("e/f")
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if !info.IsDir() {
			t.Error("IsDir() = false, want true")
		}
		if err := fm.CreateDirectory("e/f"); err != nil {
			t.Errorf("CreateDirectory(existing) error = %v", err)
		}
	})

	t.Run("move file", func(t *testing.T) {
		mustWrite(t, fm, "g/a.jpg", "a")
		if err := fm.MoveItem("g/a.jpg", "h/a.jpg"); err != nil {
			t.Fatalf("MoveItem() error = %v", err)
		}
		if fm.FileExists("g/a.jpg") {
			t.Error("source still exists after move")
		}
		if got := mustRead(t, fm, "h/a.jpg"); got != "a" {
			t.Errorf("moved content = %q, want %q", got, "a")
		}
	})

	t.Run("move onto existing fails", func(t *testing.T) {
		mustWrite(t, fm, "i/a.jpg", "a")
		mustWrite(t, fm, "i/b.jpg", "b")
		if err := fm.MoveItem("i/a.jpg", "i/b.jpg"); !errors.Is(err, fs.ErrExist) {
			t.Fatalf("MoveItem() error = %v, want fs.ErrExist", err)
		}
		if got := mustRead(t, fm, "i/b.jpg"); got != "b" {
			t.Errorf("destination = %q, want %q", got, "b")
		}
	})

	t.Run("copy directory", func(t *testing.T) {
		mustWrite(t, fm, "j/a.jpg", "a")
		mustWrite(t, fm, "j/sub/b.jpg", "b")
		if err := fm.CopyItem("j", "k"); err != nil {
			t.Fatalf("CopyItem() error = %v", err)
		}
		if got := mustRead(t, fm, "k/sub/b.jpg"); got != "b" {
			t.Errorf("copied content = %q, want %q", got, "b")
		}
		if got := mustRead(t, fm, "j/a.jpg"); got != "a" {
			t.Errorf("source content = %q, want %q", got, "a")
		}
	})

	t.Run("move directory", func(t *testing.T) {
		mustWrite(t, fm, "l/sub/a.jpg", "a")
		if err := fm.MoveItem("l", "m"); err != nil {
			t.Fatalf("MoveItem() error = %v", err)
		}
		if fm.FileExists("l/sub/a.jpg") {
			t.Error("source still exists after move")
		}
		if got := mustRead(t, fm, "m/sub/a.jpg"); got != "a" {
			t.Errorf("moved content = %q, want %q", got, "a")
		}
	})

	t.Run("remove", func(t *testing.T) {
		mustWrite(t, fm, "n/a.jpg", "a")
		mustWrite(t, fm, "n/sub/b.jpg", "b")
		if err := fm.RemoveItem("n/a.jpg"); err != nil {
			t.Fatalf("RemoveItem(file) error = %v", err)
		}
		if fm.FileExists("n/a.jpg") {
			t.Error("file exists after remove")
		}
		if err := fm.RemoveItem("n"); err != nil {
			t.Fatalf("RemoveItem(dir) error = %v", err)
		}
		if fm.FileExists("n/sub/b.jpg") {
			t.Error("nested file exists after removing directory")
		}
		if err := fm.RemoveItem("n"); err != nil {
			t.Errorf("RemoveItem(missing) error = %v, want nil", err)
		}
	})

	t.Run("refuses to remove root", func(t *testing.T) {
		if err := fm.RemoveItem(""); err == nil {
			t.Error("RemoveItem(root) error = nil, want error")
		}
	})

	t.Run("paths cannot escape the root", func(t *testing.T) {
		mustWrite(t, fm, "../../escape.jpg", "x")
		if got := mustRead(t, fm, "escape.jpg"); got != "x" {
			t.Errorf("ContentsOfFile() = %q, want %q", got, "x")
		}
	})

	t.Run("invalidate", func(t *testing.T) {
		fm.Invalidate()
		_, err := fm.ContentsOfFile("a/one.jpg")
		if !errors.Is(err, ErrClosed) {
			t.Errorf("ContentsOfFile() after Invalidate error = %v, want ErrClosed", err)
		}
		if err := fm.WriteData("z.jpg", bytes.Repeat([]byte("z"), 3), pd.WriteOptions{}); !errors.Is(err, ErrClosed) {
			t.Errorf("WriteData() after Invalidate error = %v, want ErrClosed", err)
		}
	})
}
