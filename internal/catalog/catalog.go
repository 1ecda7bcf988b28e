// Package catalog assigns stable 32-bit identifiers to library-relative file
// paths and keeps them stable across renames the owner reports.
//
// A Catalog is not safe for concurrent use. Its owning library routes every
// call through a single serial queue.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/armon/go-radix"

	"pd-go/internal/fsutil"
)

// FormatVersion is the version written into serialized catalogs.
const FormatVersion = 1

// ErrInvalidated is returned by Synchronize after Invalidate.
var ErrInvalidated = errors.New("catalog invalidated")

// ErrExhausted reports that every 32-bit id has been handed out.
var ErrExhausted = errors.New("catalog ids exhausted")

// Catalog maps relative paths to file ids.
//
// Entries live in one of two tables. Ids allocated since the last successful
// synchronize are provisional; a successful synchronize promotes them to
// confirmed. Lookups, renames and removals see both tables.
type Catalog struct {
	confirmed   *radix.Tree
	provisional *radix.Tree
	paths       map[uint32]string
	nextID      uint32
	exhausted   bool
	dirty       bool
	invalid     bool
}

// serialized is the on-disk form of a catalog.
type serialized struct {
	Version   int               `json:"version"`
	NextID    uint32            `json:"next_id"`
	Exhausted bool              `json:"exhausted,omitempty"`
	Files     map[string]uint32 `json:"files"`
}

// New returns an empty catalog whose first id is 1.
func New() *Catalog {
	return &Catalog{
		confirmed:   radix.New(),
		provisional: radix.New(),
		paths:       make(map[uint32]string),
		nextID:      1,
	}
}

// Open loads a catalog from file. A missing file yields an empty catalog.
func Open(file string) (*Catalog, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Decode(data)
}

// Decode builds a catalog from its serialized form. Every entry is confirmed.
func Decode(data []byte) (*Catalog, error) {
	var s serialized
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if s.Version > FormatVersion {
		return nil, fmt.Errorf("catalog version %d is newer than supported version %d", s.Version, FormatVersion)
	}

	c := New()
	next := uint64(s.NextID)
	for p, id := range s.Files {
		if id == 0 {
			return nil, fmt.Errorf("catalog entry %q has invalid id 0", p)
		}
		if other, ok := c.paths[id]; ok {
			return nil, fmt.Errorf("catalog id %d assigned to both %q and %q", id, other, p)
		}
		c.confirmed.Insert(p, id)
		c.paths[id] = p
		next = max(next, uint64(id)+1)
	}
	switch {
	case s.Exhausted || next > math.MaxUint32:
		c.nextID, c.exhausted = math.MaxUint32, true
	case next > 1:
		c.nextID = uint32(next)
	}
	return c, nil
}

// FileIDForPath returns the id of p, allocating the next id if p is unknown.
// After Invalidate, or once the id space is exhausted, unknown paths get 0.
func (c *Catalog) FileIDForPath(p string) uint32 {
	if c.invalid {
		return 0
	}
	p = Clean(p)
	if id, ok := c.lookup(p); ok {
		return id
	}

	if c.exhausted {
		return 0
	}
	id := c.nextID
	if id == math.MaxUint32 {
		c.exhausted = true
	} else {
		c.nextID++
	}
	c.provisional.Insert(p, id)
	c.paths[id] = p
	c.dirty = true
	return id
}

// Lookup returns the id of p without allocating.
func (c *Catalog) Lookup(p string) (uint32, bool) {
	if c.invalid {
		return 0, false
	}
	return c.lookup(Clean(p))
}

// PathForFileID returns the live path of id.
func (c *Catalog) PathForFileID(id uint32) (string, bool) {
	if c.invalid {
		return "", false
	}
	p, ok := c.paths[id]
	return p, ok
}

// RenameFile moves the id of oldPath to newPath. An unknown oldPath is a
// no-op. An entry already at newPath is replaced.
func (c *Catalog) RenameFile(oldPath, newPath string) {
	if c.invalid {
		return
	}
	oldPath, newPath = Clean(oldPath), Clean(newPath)
	if oldPath == newPath {
		return
	}

	tree, id, ok := c.find(oldPath)
	if !ok {
		return
	}
	c.remove(newPath)
	tree.Delete(oldPath)
	tree.Insert(newPath, id)
	c.paths[id] = newPath
	c.dirty = true
}

// RenameDirectory rewrites every entry below oldDir to live below newDir,
// preserving ids. An empty oldDir denotes the library root.
func (c *Catalog) RenameDirectory(oldDir, newDir string) {
	if c.invalid {
		return
	}
	oldDir, newDir = Clean(oldDir), Clean(newDir)
	if oldDir == newDir {
		return
	}

	prefix := ""
	if oldDir != "" {
		prefix = oldDir + "/"
	}

	type move struct {
		tree *radix.Tree
		from string
		id   uint32
	}
	var moves []move
	for _, tree := range []*radix.Tree{c.confirmed, c.provisional} {
		tree.WalkPrefix(prefix, func(k string, v interface{}) bool {
			moves = append(moves, move{tree: tree, from: k, id: v.(uint32)})
			return false
		})
	}
	if len(moves) == 0 {
		return
	}

	for _, m := range moves {
		m.tree.Delete(m.from)
	}
	for _, m := range moves {
		to := path.Join(newDir, strings.TrimPrefix(m.from, prefix))
		c.remove(to)
		m.tree.Insert(to, m.id)
		c.paths[m.id] = to
	}
	c.dirty = true
}

// RemoveFileWithPath drops the entry for p. Its id is never reused.
func (c *Catalog) RemoveFileWithPath(p string) {
	if c.invalid {
		return
	}
	if c.remove(Clean(p)) {
		c.dirty = true
	}
}

// AllFileIDs returns the set of live ids.
func (c *Catalog) AllFileIDs() *roaring.Bitmap {
	bm := roaring.New()
	if c.invalid {
		return bm
	}
	for id := range c.paths {
		bm.Add(id)
	}
	return bm
}

// Entries returns a copy of the full path to id table.
func (c *Catalog) Entries() map[string]uint32 {
	out := make(map[string]uint32, len(c.paths))
	for id, p := range c.paths {
		out[p] = id
	}
	return out
}

// Len returns the number of live entries.
func (c *Catalog) Len() int { return len(c.paths) }

// NextID returns the id the next allocation will use.
func (c *Catalog) NextID() uint32 { return c.nextID }

// Exhausted reports whether the last id has been handed out.
func (c *Catalog) Exhausted() bool { return c.exhausted }

// Pending returns the number of provisional entries.
func (c *Catalog) Pending() int {
	if c.invalid {
		return 0
	}
	return c.provisional.Len()
}

// Dirty reports whether the catalog changed since it was loaded or last synchronized.
func (c *Catalog) Dirty() bool { return c.dirty }

// Encode serializes the merged table.
func (c *Catalog) Encode() ([]byte, error) {
	s := serialized{
		Version:   FormatVersion,
		NextID:    c.nextID,
		Exhausted: c.exhausted,
		Files:     c.Entries(),
	}
	return json.MarshalIndent(s, "", "  ")
}

// SynchronizeWithContentsOfFile writes the catalog to file atomically and
// promotes provisional entries. It does nothing when the catalog is clean.
// On failure the in-memory state is left as it was and stays dirty.
func (c *Catalog) SynchronizeWithContentsOfFile(file string) error {
	if c.invalid {
		return ErrInvalidated
	}
	if !c.dirty {
		return nil
	}

	data, err := c.Encode()
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	if err := fsutil.WriteFileAtomic(file, data, 0644); err != nil {
		return fmt.Errorf("writing catalog %s: %w", file, err)
	}

	c.provisional.Walk(func(k string, v interface{}) bool {
		c.confirmed.Insert(k, v)
		return false
	})
	c.provisional = radix.New()
	c.dirty = false
	return nil
}

// Invalidate releases the tables. Later mutations are ignored.
func (c *Catalog) Invalidate() {
	c.invalid = true
	c.confirmed = radix.New()
	c.provisional = radix.New()
	c.paths = make(map[uint32]string)
	c.dirty = false
}

// Clean normalizes a library-relative path: slash separated, no leading or
// trailing slash, "" for the root.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

func (c *Catalog) lookup(p string) (uint32, bool) {
	_, id, ok := c.find(p)
	return id, ok
}

func (c *Catalog) find(p string) (*radix.Tree, uint32, bool) {
	if v, ok := c.confirmed.Get(p); ok {
		return c.confirmed, v.(uint32), true
	}
	if v, ok := c.provisional.Get(p); ok {
		return c.provisional, v.(uint32), true
	}
	return nil, 0, false
}

func (c *Catalog) remove(p string) bool {
	tree, id, ok := c.find(p)
	if !ok {
		return false
	}
	tree.Delete(p)
	delete(c.paths, id)
	return true
}
