package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAtomic(t *testing.T) {
	t.Run("writes content and leaves no temp files", func(t *testing.T) {
		dir := t.TempDir()
		dest := filepath.Join(dir, "out.bin")

		if err := WriteFileAtomic(dest, []byte("hello"), 0644); err != nil {
			t.Fatalf("WriteFileAtomic() error = %v", err)
		}

		got, err := os.ReadFile(dest)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if string(got) != "hello" {
			t.Errorf("content = %q, want %q", got, "hello")
		}

		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), TempPrefix) {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	})

	t.Run("size mismatch keeps existing file", func(t *testing.T) {
		dir := t.TempDir()
		dest := filepath.Join(dir, "out.bin")
		if err := os.WriteFile(dest, []byte("old"), 0644); err != nil {
			t.Fatal(err)
		}

		err := WriteAtomic(dest, strings.NewReader("new content"), 3, 0644)
		if err == nil {
			t.Fatal("WriteAtomic() expected size mismatch error")
		}

		got, _ := os.ReadFile(dest)
		if string(got) != "old" {
			t.Errorf("content = %q, want %q", got, "old")
		}
	})

	t.Run("missing directory is an error", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "missing", "out.bin")
		if err := WriteFileAtomic(dest, []byte("x"), 0644); err == nil {
			t.Error("WriteFileAtomic() expected error for missing directory")
		}
	})
}
