package pd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
)

// SidecarName is the per-directory metadata document.
const SidecarName = ".pd-metadata.json"

const sidecarVersion = 1

// sidecarDoc holds the explicit properties of every image in one directory,
// keyed by image base name. Writes are coalesced through the dirty flag and
// flushed by Library.Synchronize.
type sidecarDoc struct {
	Version int                           `json:"version"`
	Images  map[string]ExplicitProperties `json:"images"`

	dirty bool
}

// sidecarLocked returns the document for dir, reading it on first use.
// Must run on the library queue.
func (l *Library) sidecarLocked(dir string) (*sidecarDoc, error) {
	if doc, ok := l.sidecars[dir]; ok {
		return doc, nil
	}

	doc := &sidecarDoc{Version: sidecarVersion, Images: make(map[string]ExplicitProperties)}
	p := joinPath(dir, SidecarName)
	data, err := l.fm.ContentsOfFile(p)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, doc); err != nil {
			l.logger.Warn("ignoring unreadable sidecar", "path", p, "error", err)
			doc = &sidecarDoc{Version: sidecarVersion, Images: make(map[string]ExplicitProperties)}
		}
		if doc.Images == nil {
			doc.Images = make(map[string]ExplicitProperties)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading sidecar: %w", err)
	}

	l.sidecars[dir] = doc
	return doc, nil
}

// sidecarEntryLocked returns a copy of the stored properties of one image.
func (l *Library) sidecarEntryLocked(dir, name string) (ExplicitProperties, error) {
	doc, err := l.sidecarLocked(dir)
	if err != nil {
		return ExplicitProperties{}, err
	}
	return doc.Images[name].Clone(), nil
}

// storeSidecarEntryLocked records props for an image and marks the document dirty.
func (l *Library) storeSidecarEntryLocked(dir, name string, props ExplicitProperties) error {
	doc, err := l.sidecarLocked(dir)
	if err != nil {
		return err
	}
	doc.Images[name] = props.Clone()
	doc.dirty = true
	return nil
}

func (l *Library) deleteSidecarEntryLocked(dir, name string) error {
	doc, err := l.sidecarLocked(dir)
	if err != nil {
		return err
	}
	if _, ok := doc.Images[name]; ok {
		delete(doc.Images, name)
		doc.dirty = true
	}
	return nil
}

// moveSidecarEntryLocked moves the properties of one image to another
// directory or base name. An entry already stored under the new name is
// never replaced.
func (l *Library) moveSidecarEntryLocked(oldDir, oldName, newDir, newName string) error {
	if oldDir == newDir && oldName == newName {
		return nil
	}
	src, err := l.sidecarLocked(oldDir)
	if err != nil {
		return err
	}
	props, ok := src.Images[oldName]
	if !ok {
		return nil
	}
	dst, err := l.sidecarLocked(newDir)
	if err != nil {
		return err
	}
	if _, taken := dst.Images[newName]; taken {
		return NewFileError("move sidecar entry", joinPath(newDir, newName), fs.ErrExist)
	}
	delete(src.Images, oldName)
	src.dirty = true
	dst.Images[newName] = props
	dst.dirty = true
	return nil
}

// recordFileTypesLocked refreshes the file-type map of the sidecar entry of
// img. Images without an entry are left out of the sidecar. The caller holds
// img.mu.
func (l *Library) recordFileTypesLocked(img *Image) {
	doc, err := l.sidecarLocked(img.dir)
	if err != nil {
		l.logger.Warn("file types not recorded", "image", img.base, "error", err)
		return
	}
	props, ok := doc.Images[img.base]
	if !ok {
		return
	}
	types := img.fileTypesLocked()
	if maps.Equal(props.FileTypes, types) {
		return
	}
	props.FileTypes = types
	doc.Images[img.base] = props
	doc.dirty = true
	img.explicit.FileTypes = maps.Clone(types)
}

// renameSidecarDirLocked moves cached documents below oldDir after a
// directory rename. The documents themselves moved on disk with the directory.
func (l *Library) renameSidecarDirLocked(oldDir, newDir string) {
	for _, dir := range slices.Collect(maps.Keys(l.sidecars)) {
		rest, ok := underDir(dir, oldDir)
		if !ok {
			continue
		}
		doc := l.sidecars[dir]
		delete(l.sidecars, dir)
		l.sidecars[joinPath(newDir, rest)] = doc
	}
}

// flushSidecarsLocked writes every dirty document. Documents that fail stay
// dirty for the next attempt.
func (l *Library) flushSidecarsLocked() error {
	var errs []error
	for _, dir := range slices.Sorted(maps.Keys(l.sidecars)) {
		doc := l.sidecars[dir]
		if !doc.dirty {
			continue
		}
		p := joinPath(dir, SidecarName)
		if len(doc.Images) == 0 {
			if err := l.fm.RemoveItem(p); err != nil {
				errs = append(errs, err)
				continue
			}
			doc.dirty = false
			continue
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("encoding sidecar %s: %w", p, err))
			continue
		}
		if err := l.fm.WriteData(p, data, WriteOptions{Atomic: true}); err != nil {
			errs = append(errs, err)
			continue
		}
		doc.dirty = false
		l.logger.Debug("sidecar written", "path", p, "images", len(doc.Images))
	}
	return errors.Join(errs...)
}

// underDir reports whether p is dir or below it and returns the remainder.
// An empty dir contains everything.
func underDir(p, dir string) (string, bool) {
	if dir == "" {
		return p, true
	}
	if p == dir {
		return "", true
	}
	if len(p) > len(dir) && p[:len(dir)] == dir && p[len(dir)] == '/' {
		return p[len(dir)+1:], true
	}
	return "", false
}
