package fs

import (
	"testing"
	"time"

	"pd-go/internal/pd"
)

func TestMemoryFileManager(t *testing.T) {
	testFileManager(t, NewMemoryFileManager("test"))
}

func TestMemoryFileManager_Spec(t *testing.T) {
	fm := NewMemoryFileManager("cards")
	spec := fm.Spec()
	if spec.Type != pd.SpecMemory || !spec.Transient {
		t.Errorf("Spec() = %+v, want transient memory spec", spec)
	}
	if fm.Description() != "memory:cards" {
		t.Errorf("Description() = %q", fm.Description())
	}
}

func TestMemoryFileManager_SetClock(t *testing.T) {
	fm := NewMemoryFileManager("test")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fm.SetClock(func() time.Time { return at })
	mustWrite(t, fm, "a/b.jpg", "x")
	for _, p := range []string{"a", "a/b.jpg"} {
		info, err := fm.Stat(p)
		if err != nil {
			t.Fatal(err)
		}
		if !info.ModTime().Equal(at) {
			t.Errorf("Stat(%q).ModTime() = %v, want %v", p, info.ModTime(), at)
		}
	}
}

func TestMemoryFileManager_MoveIntoItself(t *testing.T) {
	fm := NewMemoryFileManager("test")
	mustWrite(t, fm, "a/b.jpg", "x")
	if err := fm.MoveItem("a", "a/c"); err == nil {
		t.Error("MoveItem(into itself) error = nil, want error")
	}
}

func TestMemoryFileManager_WriteOverDirectory(t *testing.T) {
	fm := NewMemoryFileManager("test")
	if err := fm.CreateDirectory("a"); err != nil {
		t.Fatal(err)
	}
	if err := fm.WriteData("a", []byte("x"), pd.WriteOptions{}); err == nil {
		t.Error("WriteData(directory) error = nil, want error")
	}
}
