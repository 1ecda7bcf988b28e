package fs

import (
	"path/filepath"
	"testing"

	"pd-go/internal/pd"
)

func TestParseSpec(t *testing.T) {
	abs, err := filepath.Abs("photos")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		raw     string
		want    pd.FileManagerSpec
		wantErr bool
	}{
		{name: "absolute path", raw: "/srv/photos", want: pd.FileManagerSpec{Type: pd.SpecLocal, Path: "/srv/photos"}},
		{name: "relative path", raw: "photos", want: pd.FileManagerSpec{Type: pd.SpecLocal, Path: abs}},
		{name: "file url", raw: "file:///srv/photos", want: pd.FileManagerSpec{Type: pd.SpecLocal, Path: "/srv/photos"}},
		{name: "memory", raw: "memory:cards", want: pd.FileManagerSpec{Type: pd.SpecMemory, Path: "/cards", Transient: true}},
		{
			name: "sftp",
			raw:  "sftp://alex@nas.local:2222/srv/photos",
			want: pd.FileManagerSpec{Type: pd.SpecSFTP, Host: "nas.local", Port: 2222, User: "alex", Path: "/srv/photos"},
		},
		{name: "sftp without path", raw: "sftp://nas.local", want: pd.FileManagerSpec{Type: pd.SpecSFTP, Host: "nas.local", Path: "/"}},
		{
			name: "s3",
			raw:  "s3://bucket/a/b/?region=eu-west-1&encrypted=true",
			want: pd.FileManagerSpec{Type: pd.SpecS3, Bucket: "bucket", Prefix: "a/b", Region: "eu-west-1", Encrypted: true},
		},
		{name: "empty", raw: " ", wantErr: true},
		{name: "memory without name", raw: "memory:", wantErr: true},
		{name: "sftp bad port", raw: "sftp://host:0/x", wantErr: true},
		{name: "s3 bad flag", raw: "s3://bucket?encrypted=maybe", wantErr: true},
		{name: "unknown scheme", raw: "ftp://host/x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpec(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseSpec(%q) error = nil, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSpec(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseSpec(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}
