// Package cache stores derived artifacts (previews, thumbnails) named by
// catalog file id.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"pd-go/internal/fsutil"
)

// ErrNotFound is returned by Get for a missing artifact.
var ErrNotFound = errors.New("cache entry not found")

// Store is a directory of cache artifacts laid out as:
//
//	<root>/
//	  <id & 0xff as %02x>/
//	    <id >> 8 as %06x><base>
//
// Writes go through a temp file and a rename so concurrent readers never see
// a partial artifact.
type Store struct {
	root string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Path returns the artifact path for id and base. The result depends only on
// the root, the id and the base.
func (s *Store) Path(id uint32, base string) string {
	return filepath.Join(s.root, bucketName(id), fmt.Sprintf("%06x%s", id>>8, base))
}

// Put stores size bytes from r as the artifact (id, base).
func (s *Store) Put(id uint32, base string, r io.Reader, size int64) error {
	dest := s.Path(id, base)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create cache bucket: %w", err)
	}
	if err := fsutil.WriteAtomic(dest, r, size, 0644); err != nil {
		return fmt.Errorf("storing cache entry %d%s: %w", id, base, err)
	}
	return nil
}

// Get copies the artifact (id, base) to w.
func (s *Store) Get(id uint32, base string, w io.Writer) error {
	f, err := os.Open(s.Path(id, base))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%d%s: %w", id, base, ErrNotFound)
		}
		return fmt.Errorf("failed to open cache entry: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read cache entry: %w", err)
	}
	return nil
}

// Exists reports whether the artifact (id, base) is present.
func (s *Store) Exists(id uint32, base string) bool {
	_, err := os.Stat(s.Path(id, base))
	return err == nil
}

// Remove deletes every artifact for id.
func (s *Store) Remove(id uint32) error {
	dir := filepath.Join(s.root, bucketName(id))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading cache bucket: %w", err)
	}

	prefix := fmt.Sprintf("%06x", id>>8)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing cache entry: %w", err)
			}
		}
	}
	return nil
}

// Empty deletes every artifact but keeps the root.
func (s *Store) Empty() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("emptying cache: %w", err)
		}
	}
	return nil
}

// Purge deletes every artifact whose id is not in live and returns how many
// files were removed.
func (s *Store) Purge(live *roaring.Bitmap) (int, error) {
	buckets, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading cache directory: %w", err)
	}

	removed := 0
	for _, b := range buckets {
		low, ok := parseBucket(b)
		if !ok {
			continue
		}
		dir := filepath.Join(s.root, b.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			return removed, fmt.Errorf("reading cache bucket: %w", err)
		}
		for _, e := range entries {
			name := e.Name()
			if len(name) < 6 || strings.HasPrefix(name, fsutil.TempPrefix) {
				continue
			}
			high, err := strconv.ParseUint(name[:6], 16, 32)
			if err != nil {
				continue
			}
			id := uint32(high)<<8 | low
			if live.Contains(id) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("purging cache entry: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

func bucketName(id uint32) string {
	return fmt.Sprintf("%02x", id&0xff)
}

func parseBucket(e os.DirEntry) (uint32, bool) {
	if !e.IsDir() || len(e.Name()) != 2 {
		return 0, false
	}
	v, err := strconv.ParseUint(e.Name(), 16, 8)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
