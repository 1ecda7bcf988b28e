package fs

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"pd-go/internal/pd"
)

// Factory builds FileManagers from persisted specs.
type Factory struct {
	SFTP SFTPOptions
	S3   S3Options

	// Cipher seals objects of encrypted S3 libraries. Opening an encrypted
	// library fails when it is nil.
	Cipher Cipher

	mu     sync.Mutex
	memory map[string]*MemoryFileManager
}

var _ pd.FileManagerFactory = (*Factory)(nil)

// NewFileManager creates a FileManager implementation based on the spec type.
// Memory roots with the same path share their contents for the lifetime of
// the factory.
func (f *Factory) NewFileManager(spec pd.FileManagerSpec) (pd.FileManager, error) {
	switch spec.Type {
	case pd.SpecLocal, "":
		if spec.Path == "" {
			return nil, fmt.Errorf("local library requires a path")
		}
		return NewLocalFileManager(spec.Path)
	case pd.SpecMemory:
		return f.memoryManager(spec), nil
	case pd.SpecSFTP:
		if f.SFTP.KeyPath == "" {
			return nil, fmt.Errorf("sftp library requires sftp.key_path to be set")
		}
		return DialSFTP(spec, f.SFTP)
	case pd.SpecS3:
		if spec.Bucket == "" {
			return nil, fmt.Errorf("s3 library requires a bucket")
		}
		if spec.Encrypted && f.Cipher == nil {
			return nil, fmt.Errorf("s3 library %s is encrypted but no encryption is configured", spec)
		}
		return DialS3(context.Background(), spec, f.S3, f.Cipher)
	default:
		return nil, fmt.Errorf("unknown library type: %s", spec.Type)
	}
}

func (f *Factory) memoryManager(spec pd.FileManagerSpec) *MemoryFileManager {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memory == nil {
		f.memory = make(map[string]*MemoryFileManager)
	}
	name := strings.Trim(spec.Path, "/")
	m, ok := f.memory[name]
	switch {
	case !ok:
		m = NewMemoryFileManager(name)
		f.memory[name] = m
	case m.isClosed():
		m = m.reopen()
		f.memory[name] = m
	}
	return m
}
