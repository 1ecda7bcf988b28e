package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"

	"pd-go/internal/fsutil"
	"pd-go/internal/pd"
)

// ErrClosed is returned by FileManagers after Invalidate.
var ErrClosed = errors.New("file manager has been invalidated")

// removablePrefixes are mount roots of ejectable media.
var removablePrefixes = []string{"/Volumes/", "/media/", "/run/media/"}

// LocalFileManager is a FileManager over a directory of the local filesystem.
type LocalFileManager struct {
	root      string
	spec      pd.FileManagerSpec
	removable bool
	closed    atomic.Bool
}

// NewLocalFileManager creates a manager rooted at root, which must be an
// existing directory.
func NewLocalFileManager(root string) (*LocalFileManager, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat library root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library root is not a directory: %s", absRoot)
	}
	return &LocalFileManager{
		root:      absRoot,
		spec:      pd.FileManagerSpec{Type: pd.SpecLocal, Path: absRoot},
		removable: isRemovablePath(absRoot),
	}, nil
}

func isRemovablePath(p string) bool {
	p = filepath.ToSlash(p)
	for _, prefix := range removablePrefixes {
		if strings.HasPrefix(p, prefix) && len(p) > len(prefix) {
			return true
		}
	}
	return false
}

// mountPoint returns the volume root of a removable path.
func mountPoint(p string) string {
	p = filepath.ToSlash(p)
	depth := map[string]int{"/Volumes/": 1, "/media/": 2, "/run/media/": 2}
	for _, prefix := range removablePrefixes {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		parts := strings.Split(rest, "/")
		n := min(depth[prefix], len(parts))
		return prefix + strings.Join(parts[:n], "/")
	}
	return p
}

// Root returns the absolute root directory.
func (m *LocalFileManager) Root() string { return m.root }

func (m *LocalFileManager) Name() string { return filepath.Base(m.root) }

func (m *LocalFileManager) Description() string { return m.root }

func (m *LocalFileManager) Spec() pd.FileManagerSpec { return m.spec }

func (m *LocalFileManager) Removable() bool { return m.removable }

// abs maps a library-relative path to an absolute one. Paths cannot escape
// the root.
func (m *LocalFileManager) abs(op, p string) (string, error) {
	if m.closed.Load() {
		return "", pd.NewFileError(op, p, ErrClosed)
	}
	rel := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
	return filepath.Join(m.root, filepath.FromSlash(rel)), nil
}

func (m *LocalFileManager) Stat(p string) (fs.FileInfo, error) {
	full, err := m.abs("stat", p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, pd.NewFileError("stat", p, err)
	}
	return info, nil
}

func (m *LocalFileManager) FileExists(p string) bool {
	full, err := m.abs("stat", p)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

func (m *LocalFileManager) ContentsOfFile(p string) ([]byte, error) {
	full, err := m.abs("read", p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, pd.NewFileError("read", p, err)
	}
	return data, nil
}

func (m *LocalFileManager) ContentsOfDirectory(dir string) ([]fs.FileInfo, error) {
	full, err := m.abs("list", dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, pd.NewFileError("list", dir, err)
	}
	infos := make([]fs.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() && !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (m *LocalFileManager) WriteData(p string, data []byte, opts pd.WriteOptions) error {
	full, err := m.abs("write", p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return pd.NewFileError("write", p, err)
	}
	if opts.NoOverwrite {
		if _, err := os.Lstat(full); err == nil {
			return pd.NewFileError("write", p, fs.ErrExist)
		}
	}
	if opts.Atomic {
		err = fsutil.WriteFileAtomic(full, data, 0644)
	} else {
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if opts.NoOverwrite {
			flags |= os.O_EXCL
		}
		err = writeFile(full, data, flags)
	}
	if err != nil {
		return pd.NewFileError("write", p, err)
	}
	return nil
}

func writeFile(name string, data []byte, flags int) error {
	f, err := os.OpenFile(name, flags, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (m *LocalFileManager) CreateDirectory(dir string) error {
	full, err := m.abs("create directory", dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0755); err != nil {
		return pd.NewFileError("create directory", dir, err)
	}
	return nil
}

func (m *LocalFileManager) CopyItem(src, dst string) error {
	from, err := m.abs("copy", src)
	if err != nil {
		return err
	}
	to, err := m.abs("copy", dst)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(to); err == nil {
		return pd.NewFileError("copy", dst, fs.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return pd.NewFileError("copy", dst, err)
	}
	if err := copyTree(from, to); err != nil {
		os.RemoveAll(to)
		return pd.NewFileError("copy", src, err)
	}
	return nil
}

func (m *LocalFileManager) MoveItem(src, dst string) error {
	from, err := m.abs("move", src)
	if err != nil {
		return err
	}
	to, err := m.abs("move", dst)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(from); err != nil {
		return pd.NewFileError("move", src, err)
	}
	if _, err := os.Lstat(to); err == nil {
		return pd.NewFileError("move", dst, fs.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return pd.NewFileError("move", dst, err)
	}

	err = os.Rename(from, to)
	if errors.Is(err, syscall.EXDEV) {
		if err = copyTree(from, to); err == nil {
			err = os.RemoveAll(from)
		} else {
			os.RemoveAll(to)
		}
	}
	if err != nil {
		return pd.NewFileError("move", src, err)
	}
	return nil
}

func (m *LocalFileManager) RemoveItem(p string) error {
	full, err := m.abs("remove", p)
	if err != nil {
		return err
	}
	if full == m.root {
		return pd.NewFileError("remove", p, fs.ErrPermission)
	}
	if err := os.RemoveAll(full); err != nil {
		return pd.NewFileError("remove", p, err)
	}
	return nil
}

func (m *LocalFileManager) FileURL(p string) string {
	rel := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
	full := filepath.ToSlash(filepath.Join(m.root, filepath.FromSlash(rel)))
	return (&url.URL{Scheme: "file", Path: full}).String()
}

// Unmount ejects the volume holding the root using diskutil on macOS and
// umount elsewhere.
func (m *LocalFileManager) Unmount() error {
	if !m.removable {
		return fmt.Errorf("%s is not on removable media", m.root)
	}
	mp := mountPoint(m.root)
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		cmd = exec.Command("diskutil", "eject", mp)
	} else {
		cmd = exec.Command("umount", mp)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("unmounting %s: %w: %s", mp, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (m *LocalFileManager) Invalidate() { m.closed.Store(true) }

// copyTree copies a file or a directory tree, preserving modes and
// modification times of files.
func copyTree(from, to string) error {
	info, err := os.Lstat(from)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(from, to, info)
	}
	return filepath.WalkDir(from, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, p)
		if err != nil {
			return err
		}
		target := filepath.Join(to, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, fi)
	})
}

func copyFile(from, to string, info fs.FileInfo) error {
	f, err := os.Open(from)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := fsutil.WriteAtomic(to, f, info.Size(), info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(to, info.ModTime(), info.ModTime())
}

// Compile-time check that LocalFileManager implements pd.FileManager
var _ pd.FileManager = (*LocalFileManager)(nil)
