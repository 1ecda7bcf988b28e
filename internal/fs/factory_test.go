package fs

import (
	"testing"

	"pd-go/internal/pd"
)

func TestFactory_NewFileManager(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		f := &Factory{}
		root := t.TempDir()
		fm, err := f.NewFileManager(pd.FileManagerSpec{Type: pd.SpecLocal, Path: root})
		if err != nil {
			t.Fatalf("NewFileManager() error = %v", err)
		}
		if _, ok := fm.(*LocalFileManager); !ok {
			t.Errorf("NewFileManager() returned %T, want *LocalFileManager", fm)
		}
	})

	t.Run("memory roots share contents", func(t *testing.T) {
		f := &Factory{}
		spec := pd.FileManagerSpec{Type: pd.SpecMemory, Path: "/cards"}
		first, err := f.NewFileManager(spec)
		if err != nil {
			t.Fatal(err)
		}
		mustWrite(t, first, "a.jpg", "a")
		first.Invalidate()

		second, err := f.NewFileManager(spec)
		if err != nil {
			t.Fatal(err)
		}
		if got := mustRead(t, second, "a.jpg"); got != "a" {
			t.Errorf("reopened content = %q, want %q", got, "a")
		}
	})

	tests := []struct {
		name string
		spec pd.FileManagerSpec
	}{
		{name: "local without path", spec: pd.FileManagerSpec{Type: pd.SpecLocal}},
		{name: "sftp without key", spec: pd.FileManagerSpec{Type: pd.SpecSFTP, Host: "nas"}},
		{name: "s3 without bucket", spec: pd.FileManagerSpec{Type: pd.SpecS3}},
		{name: "encrypted s3 without cipher", spec: pd.FileManagerSpec{Type: pd.SpecS3, Bucket: "b", Encrypted: true}},
		{name: "unknown type", spec: pd.FileManagerSpec{Type: "ftp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Factory{}
			if _, err := f.NewFileManager(tt.spec); err == nil {
				t.Errorf("NewFileManager(%+v) error = nil, want error", tt.spec)
			}
		})
	}
}
