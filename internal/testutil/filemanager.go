package testutil

import (
	"io/fs"
	"sync"

	pdfs "pd-go/internal/fs"
	"pd-go/internal/pd"
)

// MockFileManager is an in-memory FileManager that counts calls per
// operation and can be told to fail specific operations.
type MockFileManager struct {
	*pdfs.MemoryFileManager

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error
	gates    map[string]chan struct{}
	keepOpen bool
	spec     *pd.FileManagerSpec
}

// NewMockFileManager creates an empty mock named name.
func NewMockFileManager(name string) *MockFileManager {
	return &MockFileManager{
		MemoryFileManager: pdfs.NewMemoryFileManager(name),
		calls:             make(map[string]int),
		failures:          make(map[string]error),
		gates:             make(map[string]chan struct{}),
	}
}

// SetSpec overrides the spec reported by Spec, e.g. to make the mock look
// like a persistent library.
func (m *MockFileManager) SetSpec(spec pd.FileManagerSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spec = &spec
}

// FailOn makes op fail with err for path p. An empty p matches every path.
// A nil err clears the failure.
func (m *MockFileManager) FailOn(op, p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op + "\x00" + p
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

// BlockOn makes op on path p wait until the returned release func is called.
// The call is counted before it blocks.
func (m *MockFileManager) BlockOn(op, p string) (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate := make(chan struct{})
	m.gates[op+"\x00"+p] = gate
	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// KeepOpenOnInvalidate lets the contents be inspected after the owning
// library was invalidated.
func (m *MockFileManager) KeepOpenOnInvalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keepOpen = true
}

// Calls returns how often op was called.
func (m *MockFileManager) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of recorded calls across all operations.
func (m *MockFileManager) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// ResetCalls clears the call counters.
func (m *MockFileManager) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

// AddFile writes data at p, creating parent directories.
func (m *MockFileManager) AddFile(p string, data []byte) {
	if err := m.MemoryFileManager.WriteData(p, data, pd.WriteOptions{}); err != nil {
		panic(err)
	}
}

func (m *MockFileManager) record(op string, paths ...string) error {
	m.mu.Lock()
	m.calls[op]++
	gate := m.gates[op+"\x00"+paths[0]]
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range append(paths, "") {
		if err, ok := m.failures[op+"\x00"+p]; ok {
			return pd.NewFileError(op, paths[0], err)
		}
	}
	return nil
}

func (m *MockFileManager) Spec() pd.FileManagerSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spec != nil {
		return *m.spec
	}
	return m.MemoryFileManager.Spec()
}

func (m *MockFileManager) Stat(p string) (fs.FileInfo, error) {
	if err := m.record("Stat", p); err != nil {
		return nil, err
	}
	return m.MemoryFileManager.Stat(p)
}

func (m *MockFileManager) FileExists(p string) bool {
	if err := m.record("FileExists", p); err != nil {
		return false
	}
	return m.MemoryFileManager.FileExists(p)
}

func (m *MockFileManager) ContentsOfFile(p string) ([]byte, error) {
	if err := m.record("ContentsOfFile", p); err != nil {
		return nil, err
	}
	return m.MemoryFileManager.ContentsOfFile(p)
}

func (m *MockFileManager) ContentsOfDirectory(dir string) ([]fs.FileInfo, error) {
	if err := m.record("ContentsOfDirectory", dir); err != nil {
		return nil, err
	}
	return m.MemoryFileManager.ContentsOfDirectory(dir)
}

func (m *MockFileManager) WriteData(p string, data []byte, opts pd.WriteOptions) error {
	if err := m.record("WriteData", p); err != nil {
		return err
	}
	return m.MemoryFileManager.WriteData(p, data, opts)
}

func (m *MockFileManager) CreateDirectory(dir string) error {
	if err := m.record("CreateDirectory", dir); err != nil {
		return err
	}
	return m.MemoryFileManager.CreateDirectory(dir)
}

func (m *MockFileManager) CopyItem(src, dst string) error {
	if err := m.record("CopyItem", src, dst); err != nil {
		return err
	}
	return m.MemoryFileManager.CopyItem(src, dst)
}

func (m *MockFileManager) MoveItem(src, dst string) error {
	if err := m.record("MoveItem", src, dst); err != nil {
		return err
	}
	return m.MemoryFileManager.MoveItem(src, dst)
}

func (m *MockFileManager) RemoveItem(p string) error {
	if err := m.record("RemoveItem", p); err != nil {
		return err
	}
	return m.MemoryFileManager.RemoveItem(p)
}

func (m *MockFileManager) Invalidate() {
	m.mu.Lock()
	keep := m.keepOpen
	m.calls["Invalidate"]++
	m.mu.Unlock()
	if !keep {
		m.MemoryFileManager.Invalidate()
	}
}

// Compile-time check
var _ pd.FileManager = (*MockFileManager)(nil)
