package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalFileManager(t *testing.T) {
	fm, err := NewLocalFileManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileManager() error = %v", err)
	}
	testFileManager(t, fm)
}

func TestNewLocalFileManager(t *testing.T) {
	t.Run("rejects missing root", func(t *testing.T) {
		if _, err := NewLocalFileManager(filepath.Join(t.TempDir(), "missing")); err == nil {
			t.Error("NewLocalFileManager() error = nil, want error")
		}
	})

	t.Run("rejects file root", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewLocalFileManager(p); err == nil {
			t.Error("NewLocalFileManager() error = nil, want error")
		}
	})

	t.Run("spec and name", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "photos")
		if err := os.Mkdir(root, 0755); err != nil {
			t.Fatal(err)
		}
		fm, err := NewLocalFileManager(root)
		if err != nil {
			t.Fatalf("NewLocalFileManager() error = %v", err)
		}
		if fm.Name() != "photos" {
			t.Errorf("Name() = %q, want %q", fm.Name(), "photos")
		}
		if fm.Spec().Path != root {
			t.Errorf("Spec().Path = %q, want %q", fm.Spec().Path, root)
		}
		if fm.Removable() {
			t.Error("Removable() = true for a temp dir")
		}
		if err := fm.Unmount(); err == nil {
			t.Error("Unmount() error = nil for a fixed volume")
		}
	})
}

func TestLocalFileManager_FileURL(t *testing.T) {
	root := t.TempDir()
	fm, err := NewLocalFileManager(root)
	if err != nil {
		t.Fatal(err)
	}
	got := fm.FileURL("a/b c.jpg")
	if !strings.HasPrefix(got, "file://") || !strings.HasSuffix(got, "/a/b%20c.jpg") {
		t.Errorf("FileURL() = %q", got)
	}
}

func TestLocalFileManager_CopyPreservesModTime(t *testing.T) {
	root := t.TempDir()
	fm, err := NewLocalFileManager(root)
	if err != nil {
		t.Fatal(err)
	}
	mustWrite(t, fm, "a.jpg", "a")
	before, err := fm.Stat("a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if err := fm.CopyItem("a.jpg", "b.jpg"); err != nil {
		t.Fatalf("CopyItem() error = %v", err)
	}
	after, err := fm.Stat("b.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !after.ModTime().Equal(before.ModTime()) {
		t.Errorf("ModTime() = %v, want %v", after.ModTime(), before.ModTime())
	}
}

func TestIsRemovablePath(t *testing.T) {
	tests := []struct {
		path string
		want bool
		mp   string
	}{
		{path: "/Volumes/Card/DCIM", want: true, mp: "/Volumes/Card"},
		{path: "/media/alex/SD/photos", want: true, mp: "/media/alex/SD"},
		{path: "/run/media/alex/SD", want: true, mp: "/run/media/alex/SD"},
		{path: "/Volumes/", want: false},
		{path: "/home/alex/photos", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := isRemovablePath(tt.path); got != tt.want {
				t.Errorf("isRemovablePath(%q) = %v, want %v", tt.path, got, tt.want)
			}
			if tt.want {
				if got := mountPoint(tt.path); got != tt.mp {
					t.Errorf("mountPoint(%q) = %q, want %q", tt.path, got, tt.mp)
				}
			}
		})
	}
}
