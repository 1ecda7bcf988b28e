package fs

import (
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"pd-go/internal/pd"
)

// fileInfo is a static fs.FileInfo for backends without an os.FileInfo.
type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *fileInfo) Sys() any           { return nil }

type memEntry struct {
	data    []byte
	dir     bool
	modTime time.Time
}

// MemoryFileManager is an in-memory FileManager. It backs "memory" library
// specs, which are always transient, and is the base of the test fakes.
// This implementation is safe for concurrent use.
type MemoryFileManager struct {
	name string
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]*memEntry
	closed  bool
}

// NewMemoryFileManager creates an empty manager. name is used for Name and
// the spec path.
func NewMemoryFileManager(name string) *MemoryFileManager {
	return &MemoryFileManager{
		name:    name,
		now:     time.Now,
		entries: map[string]*memEntry{"": {dir: true, modTime: time.Now()}},
	}
}

// SetClock replaces the time source used for modification times.
func (m *MemoryFileManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryFileManager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// reopen returns a new manager holding a copy of the contents of m.
func (m *MemoryFileManager) reopen() *MemoryFileManager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := &MemoryFileManager{name: m.name, now: m.now, entries: make(map[string]*memEntry, len(m.entries))}
	for k, e := range m.entries {
		n.entries[k] = &memEntry{data: slices.Clone(e.data), dir: e.dir, modTime: e.modTime}
	}
	return n
}

func memPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
}

func memParent(p string) string {
	dir := path.Dir("/" + p)
	return strings.TrimPrefix(dir, "/")
}

func (m *MemoryFileManager) Name() string { return m.name }

func (m *MemoryFileManager) Description() string { return "memory:" + m.name }

func (m *MemoryFileManager) Spec() pd.FileManagerSpec {
	return pd.FileManagerSpec{Type: pd.SpecMemory, Path: "/" + m.name, Transient: true}
}

func (m *MemoryFileManager) Removable() bool { return false }

func (m *MemoryFileManager) info(p string, e *memEntry) fs.FileInfo {
	name := path.Base("/" + p)
	if p == "" {
		name = m.name
	}
	mode := fs.FileMode(0644)
	if e.dir {
		mode = fs.ModeDir | 0755
	}
	return &fileInfo{name: name, size: int64(len(e.data)), mode: mode, modTime: e.modTime}
}

// lookup returns the entry at p. Callers hold mu.
func (m *MemoryFileManager) lookup(op, p string) (*memEntry, error) {
	if m.closed {
		return nil, pd.NewFileError(op, p, ErrClosed)
	}
	e, ok := m.entries[memPath(p)]
	if !ok {
		return nil, pd.NewFileError(op, p, fs.ErrNotExist)
	}
	return e, nil
}

func (m *MemoryFileManager) Stat(p string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.lookup("stat", p)
	if err != nil {
		return nil, err
	}
	return m.info(memPath(p), e), nil
}

func (m *MemoryFileManager) FileExists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.lookup("stat", p)
	return err == nil
}

func (m *MemoryFileManager) ContentsOfFile(p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.lookup("read", p)
	if err != nil {
		return nil, err
	}
	if e.dir {
		return nil, pd.NewFileError("read", p, fmt.Errorf("is a directory"))
	}
	return slices.Clone(e.data), nil
}

func (m *MemoryFileManager) ContentsOfDirectory(dir string) ([]fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.lookup("list", dir)
	if err != nil {
		return nil, err
	}
	if !e.dir {
		return nil, pd.NewFileError("list", dir, fmt.Errorf("not a directory"))
	}
	dir = memPath(dir)
	var infos []fs.FileInfo
	for _, p := range slices.Sorted(maps.Keys(m.entries)) {
		if p != "" && memParent(p) == dir {
			infos = append(infos, m.info(p, m.entries[p]))
		}
	}
	return infos, nil
}

// mkdirAll creates dir and its parents. Callers hold mu.
func (m *MemoryFileManager) mkdirAll(op, dir string) error {
	dir = memPath(dir)
	for p := dir; ; p = memParent(p) {
		if e, ok := m.entries[p]; ok {
			if !e.dir {
				return pd.NewFileError(op, p, fmt.Errorf("not a directory"))
			}
			break
		}
		if p == "" {
			break
		}
	}
	var missing []string
	for p := dir; p != ""; p = memParent(p) {
		if _, ok := m.entries[p]; ok {
			break
		}
		missing = append(missing, p)
	}
	for _, p := range missing {
		m.entries[p] = &memEntry{dir: true, modTime: m.now()}
	}
	return nil
}

func (m *MemoryFileManager) WriteData(p string, data []byte, opts pd.WriteOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return pd.NewFileError("write", p, ErrClosed)
	}
	key := memPath(p)
	if key == "" {
		return pd.NewFileError("write", p, fs.ErrInvalid)
	}
	if e, ok := m.entries[key]; ok && (opts.NoOverwrite || e.dir) {
		return pd.NewFileError("write", p, fs.ErrExist)
	}
	if err := m.mkdirAll("write", memParent(key)); err != nil {
		return err
	}
	m.entries[key] = &memEntry{data: slices.Clone(data), modTime: m.now()}
	return nil
}

func (m *MemoryFileManager) CreateDirectory(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return pd.NewFileError("create directory", dir, ErrClosed)
	}
	return m.mkdirAll("create directory", dir)
}

// subtree returns p and every path below it. Callers hold mu.
func (m *MemoryFileManager) subtree(p string) []string {
	var out []string
	for k := range m.entries {
		if k == p || p == "" || strings.HasPrefix(k, p+"/") {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func (m *MemoryFileManager) transfer(op, src, dst string, move bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(op, src); err != nil {
		return err
	}
	from, to := memPath(src), memPath(dst)
	if from == "" || to == "" {
		return pd.NewFileError(op, src, fs.ErrInvalid)
	}
	if _, ok := m.entries[to]; ok {
		return pd.NewFileError(op, dst, fs.ErrExist)
	}
	if strings.HasPrefix(to, from+"/") {
		return pd.NewFileError(op, dst, fs.ErrInvalid)
	}
	if err := m.mkdirAll(op, memParent(to)); err != nil {
		return err
	}
	for _, k := range m.subtree(from) {
		e := m.entries[k]
		target := to + strings.TrimPrefix(k, from)
		m.entries[target] = &memEntry{data: slices.Clone(e.data), dir: e.dir, modTime: e.modTime}
		if move {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryFileManager) CopyItem(src, dst string) error {
	return m.transfer("copy", src, dst, false)
}

func (m *MemoryFileManager) MoveItem(src, dst string) error {
	return m.transfer("move", src, dst, true)
}

func (m *MemoryFileManager) RemoveItem(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return pd.NewFileError("remove", p, ErrClosed)
	}
	key := memPath(p)
	if key == "" {
		return pd.NewFileError("remove", p, fs.ErrPermission)
	}
	for _, k := range m.subtree(key) {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryFileManager) FileURL(p string) string {
	return "memory://" + m.name + "/" + memPath(p)
}

func (m *MemoryFileManager) Unmount() error { return nil }

func (m *MemoryFileManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Compile-time check that MemoryFileManager implements pd.FileManager
var _ pd.FileManager = (*MemoryFileManager)(nil)
