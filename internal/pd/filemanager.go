package pd

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// FileManager performs all file I/O for a library. Paths are slash separated
// and relative to the manager's root; "" denotes the root itself.
//
// Errors are *FileError values. CopyItem and MoveItem fail with an error
// wrapping fs.ErrExist when the destination already exists.
type FileManager interface {
	// Name is a short display name for the root (usually its last element).
	Name() string

	// Description is a human-readable location such as a path or URL.
	Description() string

	// Spec returns the persisted descriptor this manager was built from.
	Spec() FileManagerSpec

	// Removable reports whether the root lives on ejectable media.
	Removable() bool

	Stat(p string) (fs.FileInfo, error)
	FileExists(p string) bool
	ContentsOfFile(p string) ([]byte, error)

	// ContentsOfDirectory lists the direct children of dir.
	ContentsOfDirectory(dir string) ([]fs.FileInfo, error)

	WriteData(p string, data []byte, opts WriteOptions) error

	// CreateDirectory creates dir and any missing parents.
	CreateDirectory(dir string) error

	CopyItem(src, dst string) error
	MoveItem(src, dst string) error

	// RemoveItem removes a file or a directory tree. Removing a missing
	// item is not an error.
	RemoveItem(p string) error

	// FileURL returns a URL for p suitable for display or hand-off.
	FileURL(p string) string

	// Unmount asks the host to eject the backing media.
	Unmount() error

	// Invalidate releases connections. Later calls fail.
	Invalidate()
}

// WriteOptions controls WriteData.
type WriteOptions struct {
	// Atomic writes to a temporary name and renames into place.
	Atomic bool
	// NoOverwrite fails with fs.ErrExist when the file already exists.
	NoOverwrite bool
}

// FileManager spec types.
const (
	SpecLocal  = "local"
	SpecSFTP   = "sftp"
	SpecS3     = "s3"
	SpecMemory = "memory"
)

// FileManagerSpec is the persisted description of a library root. This uses
// a tagged union pattern: Type determines which other fields are relevant.
type FileManagerSpec struct {
	Type string `json:"type" toml:"type"`

	// local, sftp and memory
	Path string `json:"path,omitempty" toml:"path,omitempty"`

	// sftp
	Host string `json:"host,omitempty" toml:"host,omitempty"`
	Port int    `json:"port,omitempty" toml:"port,omitempty"`
	User string `json:"user,omitempty" toml:"user,omitempty"`

	// s3
	Bucket    string `json:"bucket,omitempty" toml:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty" toml:"prefix,omitempty"`
	Region    string `json:"region,omitempty" toml:"region,omitempty"`
	Encrypted bool   `json:"encrypted,omitempty" toml:"encrypted,omitempty"`

	// Transient forces the library to stay out of the persisted registry.
	Transient bool `json:"transient,omitempty" toml:"transient,omitempty"`
}

// Equal reports whether both specs denote the same root.
func (s FileManagerSpec) Equal(o FileManagerSpec) bool {
	if s.Type != o.Type {
		return false
	}
	switch s.Type {
	case SpecSFTP:
		return s.Host == o.Host && s.port() == o.port() && s.User == o.User && cleanRoot(s.Path) == cleanRoot(o.Path)
	case SpecS3:
		return s.Bucket == o.Bucket && strings.Trim(s.Prefix, "/") == strings.Trim(o.Prefix, "/")
	default:
		return cleanRoot(s.Path) == cleanRoot(o.Path)
	}
}

// String renders the spec as a URL-like location.
func (s FileManagerSpec) String() string {
	switch s.Type {
	case SpecSFTP:
		user := ""
		if s.User != "" {
			user = s.User + "@"
		}
		return fmt.Sprintf("sftp://%s%s:%d%s", user, s.Host, s.port(), cleanRoot(s.Path))
	case SpecS3:
		p := strings.Trim(s.Prefix, "/")
		if p == "" {
			return "s3://" + s.Bucket
		}
		return "s3://" + s.Bucket + "/" + p
	case SpecMemory:
		return "memory:" + cleanRoot(s.Path)
	default:
		return cleanRoot(s.Path)
	}
}

func (s FileManagerSpec) port() int {
	if s.Port == 0 {
		return 22
	}
	return s.Port
}

func cleanRoot(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

// FileManagerFactory builds FileManagers from persisted specs.
type FileManagerFactory interface {
	NewFileManager(spec FileManagerSpec) (FileManager, error)
}

// FileManagerFactoryFunc adapts a function to FileManagerFactory.
type FileManagerFactoryFunc func(spec FileManagerSpec) (FileManager, error)

func (f FileManagerFactoryFunc) NewFileManager(spec FileManagerSpec) (FileManager, error) {
	return f(spec)
}

// Ignorer decides which library-relative paths scans skip.
type Ignorer interface {
	Match(p string) bool
}

// IgnorerFactory builds the Ignorer for a library root.
type IgnorerFactory func(fm FileManager) (Ignorer, error)

type nopIgnorer struct{}

func (nopIgnorer) Match(string) bool { return false }

// joinPath joins library-relative path elements.
func joinPath(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}

// cleanPath normalizes a library-relative path.
func cleanPath(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

// splitPath returns the directory and file name of a library-relative path.
func splitPath(p string) (string, string) {
	p = cleanPath(p)
	dir, name := path.Split(p)
	return strings.TrimSuffix(dir, "/"), name
}
