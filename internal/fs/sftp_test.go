package fs

import (
	"net"
	"testing"

	"github.com/pkg/sftp"

	"pd-go/internal/pd"
)

// newPipeSFTP serves an in-memory SFTP filesystem over a pipe.
func newPipeSFTP(t *testing.T, spec pd.FileManagerSpec) *SFTPFileManager {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go server.Serve()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		t.Fatalf("NewClientPipe() error = %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewSFTPFileManager(spec, nil, client)
}

func TestSFTPFileManager(t *testing.T) {
	fm := newPipeSFTP(t, pd.FileManagerSpec{Host: "nas.local"})
	testFileManager(t, fm)
}

func TestSFTPFileManager_Spec(t *testing.T) {
	fm := newPipeSFTP(t, pd.FileManagerSpec{Host: "nas.local", Port: 2222, User: "alex", Path: "srv/photos/"})

	if fm.Spec().Type != pd.SpecSFTP {
		t.Errorf("Spec().Type = %q, want %q", fm.Spec().Type, pd.SpecSFTP)
	}
	if fm.Name() != "photos" {
		t.Errorf("Name() = %q, want %q", fm.Name(), "photos")
	}
	if got, want := fm.FileURL("a/b.jpg"), "sftp://alex@nas.local:2222/srv/photos/a/b.jpg"; got != want {
		t.Errorf("FileURL() = %q, want %q", got, want)
	}
	if err := fm.Unmount(); err == nil {
		t.Error("Unmount() error = nil, want error")
	}
}
