package cache

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RoaringBitmap/roaring"
)

func TestStore_Path(t *testing.T) {
	s := &Store{root: "/cache"}

	tests := []struct {
		id   uint32
		base string
		want string
	}{
		{id: 1, base: "-preview.jpg", want: "/cache/01/000000-preview.jpg"},
		{id: 0x1234, base: ".jpg", want: "/cache/34/000012.jpg"},
		{id: 0xabcdef01, base: "", want: "/cache/01/abcdef"},
	}
	for _, tt := range tests {
		if got := s.Path(tt.id, tt.base); got != filepath.FromSlash(tt.want) {
			t.Errorf("Path(%#x, %q) = %q, want %q", tt.id, tt.base, got, tt.want)
		}
	}
}

func TestStore_PutGet(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	data := []byte("preview bytes")
	if err := s.Put(7, "-preview.jpg", bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !s.Exists(7, "-preview.jpg") {
		t.Error("Exists() = false after Put")
	}

	var buf bytes.Buffer
	if err := s.Get(7, "-preview.jpg", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Errorf("Get() = %q, want %q", buf.Bytes(), data)
	}

	err = s.Get(8, "-preview.jpg", &buf)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() missing error = %v, want ErrNotFound", err)
	}

	if err := s.Put(9, ".x", strings.NewReader("abc"), 10); err == nil {
		t.Error("Put() expected size mismatch error")
	}
	if s.Exists(9, ".x") {
		t.Error("failed Put left an artifact behind")
	}
}

func TestStore_Purge(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	for _, id := range []uint32{1, 2, 0x301} {
		if err := s.Put(id, ".a", strings.NewReader("x"), 1); err != nil {
			t.Fatalf("Put(%d) error = %v", id, err)
		}
		if err := s.Put(id, ".b", strings.NewReader("y"), 1); err != nil {
			t.Fatalf("Put(%d) error = %v", id, err)
		}
	}

	live := roaring.BitmapOf(2)
	removed, err := s.Purge(live)
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if removed != 4 {
		t.Errorf("Purge() removed = %d, want 4", removed)
	}
	if !s.Exists(2, ".a") || !s.Exists(2, ".b") {
		t.Error("Purge() removed a live entry")
	}
	if s.Exists(1, ".a") || s.Exists(0x301, ".b") {
		t.Error("Purge() kept a dead entry")
	}
}

func TestStore_RemoveAndEmpty(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	s.Put(1, ".a", strings.NewReader("x"), 1)
	s.Put(1, ".b", strings.NewReader("x"), 1)
	s.Put(0x101, ".a", strings.NewReader("x"), 1)

	if err := s.Remove(1); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if s.Exists(1, ".a") || s.Exists(1, ".b") {
		t.Error("Remove() kept an artifact")
	}
	if !s.Exists(0x101, ".a") {
		t.Error("Remove() deleted an artifact of a different id in the same bucket")
	}

	if err := s.Empty(); err != nil {
		t.Fatalf("Empty() error = %v", err)
	}
	if s.Exists(0x101, ".a") {
		t.Error("Empty() kept an artifact")
	}
	if err := s.Put(3, ".a", strings.NewReader("x"), 1); err != nil {
		t.Errorf("Put() after Empty() error = %v", err)
	}
}
