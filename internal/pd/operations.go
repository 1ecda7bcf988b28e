package pd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"pd-go/internal/fsutil"
)

func (l *Library) owns(img *Image) error {
	if img.libraryID != l.id || img.registry != l.registry {
		return fmt.Errorf("image %s does not belong to library %d", img.Name(), l.id)
	}
	return nil
}

// claimedBases returns the lowercased sidecar keys in use in dir: the base
// and full name of every image file, and every key of the directory sidecar.
// A missing dir claims nothing.
func (l *Library) claimedBases(dir string) (map[string]bool, error) {
	claimed := make(map[string]bool)
	entries, err := l.fm.ContentsOfDirectory(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("listing %q: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || FileTypeOf(e.Name()) == 0 {
			continue
		}
		claimed[strings.ToLower(baseName(e.Name()))] = true
		claimed[strings.ToLower(e.Name())] = true
	}

	var serr error
	if err := l.background(func() {
		doc, err := l.sidecarLocked(dir)
		if err != nil {
			serr = err
			return
		}
		for key := range doc.Images {
			claimed[strings.ToLower(key)] = true
		}
	}); err != nil {
		return nil, err
	}
	if serr != nil {
		return nil, serr
	}
	return claimed, nil
}

// ensureBaseFree fails with fs.ErrExist when another image in dir already
// uses base as its sidecar key.
func (l *Library) ensureBaseFree(op, dir, base string) error {
	claimed, err := l.claimedBases(dir)
	if err != nil {
		return err
	}
	if claimed[strings.ToLower(base)] {
		return NewFileError(op, joinPath(dir, base), fs.ErrExist)
	}
	return nil
}

// MoveImage moves the backing files of img into dir. If any file cannot be
// moved the files already moved are moved back and the catalog is left
// unchanged. Moving onto the base name of an image already in dir fails
// with fs.ErrExist before any file is touched.
func (l *Library) MoveImage(img *Image, dir string) error {
	if err := l.check("MoveImage"); err != nil {
		return err
	}
	if err := l.owns(img); err != nil {
		return err
	}
	snap, err := img.snapshot()
	if err != nil {
		return err
	}
	dir = cleanPath(dir)
	if dir == snap.dir {
		return nil
	}
	base := snap.stem()
	if err := l.ensureBaseFree("MoveImage", dir, base); err != nil {
		return err
	}

	var moved []imageFile
	for _, f := range snap.files {
		src, dst := joinPath(snap.dir, f.name), joinPath(dir, f.name)
		if err := l.fm.MoveItem(src, dst); err != nil {
			for _, m := range moved {
				if rerr := l.fm.MoveItem(joinPath(dir, m.name), joinPath(snap.dir, m.name)); rerr != nil {
					l.logger.Error("move rollback failed", "path", joinPath(dir, m.name), "error", rerr)
				}
			}
			return fmt.Errorf("moving %s: %w", snap.base, err)
		}
		moved = append(moved, f)
	}

	oldPath := img.Path()
	if err := l.onQueue("MoveImage", func() {
		for _, f := range snap.files {
			l.catalog.RenameFile(joinPath(snap.dir, f.name), joinPath(dir, f.name))
		}
		if err := l.moveSidecarEntryLocked(snap.dir, snap.base, dir, base); err != nil {
			l.logger.Warn("sidecar entry not moved", "image", snap.base, "error", err)
		}
		img.mu.Lock()
		img.dir, img.base = dir, base
		img.implicit = nil
		img.mu.Unlock()
	}); err != nil {
		return err
	}

	l.logger.Debug("image moved", "image", img.Name().String(), "from", snap.dir, "to", dir)
	l.emit(Event{Kind: EventImageMoved, Path: img.Path(), OldPath: oldPath, Image: img.Name()})
	l.emit(Event{Kind: EventDirectoryChanged, Path: snap.dir})
	l.emit(Event{Kind: EventDirectoryChanged, Path: dir})
	return nil
}

// CopyImage copies the backing files of img into dir and registers the copy
// as a new image with fresh file ids. The copy keeps the explicit properties
// of img except its UUID. Copying onto the base name of an image already in
// dir fails with fs.ErrExist.
func (l *Library) CopyImage(img *Image, dir string) (*Image, error) {
	if err := l.check("CopyImage"); err != nil {
		return nil, err
	}
	if err := l.owns(img); err != nil {
		return nil, err
	}
	snap, err := img.snapshot()
	if err != nil {
		return nil, err
	}
	dir = cleanPath(dir)
	base := snap.stem()
	if err := l.ensureBaseFree("CopyImage", dir, base); err != nil {
		return nil, err
	}

	var copied []string
	for _, f := range snap.files {
		dst := joinPath(dir, f.name)
		if err := l.fm.CopyItem(joinPath(snap.dir, f.name), dst); err != nil {
			l.removeQuietly(copied)
			return nil, fmt.Errorf("copying %s: %w", snap.base, err)
		}
		copied = append(copied, dst)
	}

	var (
		dup  *Image
		qerr error
	)
	if err := l.onQueue("CopyImage", func() {
		dup, qerr = l.registerCopyLocked(dir, base, snap, snap.explicit.withoutIdentity())
	}); err != nil {
		return nil, err
	}
	if qerr != nil {
		return nil, qerr
	}
	l.emit(Event{Kind: EventDirectoryChanged, Path: dir})
	return dup, nil
}

// registerCopyLocked registers files named like snap in dir as a new image
// keyed by base and carrying props.
func (l *Library) registerCopyLocked(dir, base string, snap imageSnapshot, props ExplicitProperties) (*Image, error) {
	var jpeg, raw string
	for _, f := range snap.files {
		switch f.kind {
		case TypeJPEG:
			jpeg = f.name
		case TypeRAW:
			raw = f.name
		}
	}
	dup, err := l.imageLocked(dir, base, jpeg, raw)
	if err != nil {
		return nil, err
	}
	if snap.usesRAW && raw != "" {
		props.ActiveType = ActiveRAW
	}
	dup.mu.Lock()
	defer dup.mu.Unlock()
	props.FileTypes = dup.fileTypesLocked()
	if err := l.storeSidecarEntryLocked(dir, dup.base, props); err != nil {
		return nil, err
	}
	dup.explicit = props
	dup.usesRAW = raw != "" && (jpeg == "" || props.ActiveType == ActiveRAW)
	return dup, nil
}

func (l *Library) removeQuietly(paths []string) {
	for _, p := range paths {
		if err := l.fm.RemoveItem(p); err != nil {
			l.logger.Error("rollback failed", "path", p, "error", err)
		}
	}
}

// MoveImages moves every image into dir. Each image is moved independently;
// failures are returned as a *BatchError.
func (l *Library) MoveImages(images []*Image, dir string) error {
	if err := l.check("MoveImages"); err != nil {
		return err
	}
	b := batch{total: len(images)}
	for i, img := range images {
		if err := l.MoveImage(img, dir); err != nil {
			b.add(i, img.Path(), err)
		}
	}
	return b.err()
}

// CopyImages copies every image into dir and returns the copies that were
// created, in input order.
func (l *Library) CopyImages(images []*Image, dir string) ([]*Image, error) {
	if err := l.check("CopyImages"); err != nil {
		return nil, err
	}
	b := batch{total: len(images)}
	var out []*Image
	for i, img := range images {
		dup, err := l.CopyImage(img, dir)
		if err != nil {
			b.add(i, img.Path(), err)
			continue
		}
		out = append(out, dup)
	}
	return out, b.err()
}

// RenameDirectory renames a directory on disk and then in the catalog. A
// failed rename leaves both untouched.
func (l *Library) RenameDirectory(oldDir, newDir string) error {
	if err := l.check("RenameDirectory"); err != nil {
		return err
	}
	oldDir, newDir = cleanPath(oldDir), cleanPath(newDir)
	if oldDir == "" || newDir == "" {
		return fmt.Errorf("renaming the library root: %w", ErrInvalidValue)
	}
	if oldDir == newDir {
		return nil
	}
	if _, ok := underDir(newDir, oldDir); ok {
		return fmt.Errorf("renaming %q into itself: %w", oldDir, ErrInvalidValue)
	}
	if err := l.fm.MoveItem(oldDir, newDir); err != nil {
		return fmt.Errorf("renaming directory: %w", err)
	}
	return l.DidRenameDirectory(oldDir, newDir)
}

// removeImage deletes the backing files of img. Files that were deleted
// lose their catalog entries even when another file of the pair fails.
func (l *Library) removeImage(img *Image) error {
	if err := l.check("RemoveImage"); err != nil {
		return err
	}
	if err := l.owns(img); err != nil {
		return err
	}
	snap, err := img.snapshot()
	if errors.Is(err, ErrImageRemoved) {
		return nil
	}

	var (
		removed []imageFile
		errs    []error
	)
	for _, f := range snap.files {
		if err := l.fm.RemoveItem(joinPath(snap.dir, f.name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, f)
	}

	oldPath := img.Path()
	var gone *Image
	if err := l.onQueue("RemoveImage", func() {
		for _, f := range removed {
			l.catalog.RemoveFileWithPath(joinPath(snap.dir, f.name))
			if g := l.detachFileLocked(f.id); g != nil {
				gone = g
			}
		}
	}); err != nil {
		return err
	}

	if gone != nil {
		l.emit(Event{Kind: EventImageRemoved, Path: oldPath, Image: img.Name()})
	}
	if len(removed) > 0 {
		l.emit(Event{Kind: EventDirectoryChanged, Path: snap.dir})
	}
	if len(errs) > 0 {
		return fmt.Errorf("removing %s: %w", snap.base, errors.Join(errs...))
	}
	return nil
}

// isHidden reports whether a directory entry is skipped by scans.
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, fsutil.TempPrefix)
}

// ForeachSubdirectory calls fn with the path of every direct subdirectory of
// dir, in name order. Hidden and ignored directories are skipped.
func (l *Library) ForeachSubdirectory(dir string, fn func(subdir string)) error {
	if err := l.check("ForeachSubdirectory"); err != nil {
		return err
	}
	dir = cleanPath(dir)
	entries, err := l.fm.ContentsOfDirectory(dir)
	if err != nil {
		return fmt.Errorf("listing %q: %w", dir, err)
	}
	for _, e := range sortedEntries(entries) {
		if !e.IsDir() || isHidden(e.Name()) {
			continue
		}
		p := joinPath(dir, e.Name())
		if l.ignorer.Match(p + "/") {
			continue
		}
		fn(p)
	}
	return nil
}

// LoadImagesInSubdirectory scans dir and calls fn with every image found,
// pairing a JPEG and a RAW file that share a base name into one image. With recursive set
// subdirectories are scanned depth first.
func (l *Library) LoadImagesInSubdirectory(ctx context.Context, dir string, recursive bool, fn func(*Image)) error {
	if err := l.check("LoadImagesInSubdirectory"); err != nil {
		return err
	}
	return l.loadImages(ctx, cleanPath(dir), recursive, fn)
}

func (l *Library) loadImages(ctx context.Context, dir string, recursive bool, fn func(*Image)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := l.fm.ContentsOfDirectory(dir)
	if err != nil {
		return fmt.Errorf("listing %q: %w", dir, err)
	}

	var (
		groups  []*fileGroup
		byBase  = make(map[string]*fileGroup)
		subdirs []string
	)
	for _, e := range sortedEntries(entries) {
		name := e.Name()
		if isHidden(name) {
			continue
		}
		p := joinPath(dir, name)
		if e.IsDir() {
			if recursive && !l.ignorer.Match(p+"/") {
				subdirs = append(subdirs, p)
			}
			continue
		}
		kind := FileTypeOf(name)
		if kind == 0 || l.ignorer.Match(p) {
			continue
		}
		key := strings.ToLower(baseName(name))
		g := byBase[key]
		switch {
		case g == nil:
			g = &fileGroup{base: baseName(name)}
			byBase[key] = g
			groups = append(groups, g)
			g.add(kind, name)
		case !g.add(kind, name):
			extra := &fileGroup{base: name}
			extra.add(kind, name)
			groups = append(groups, extra)
		}
	}

	if len(groups) > 0 {
		var (
			images []*Image
			qerr   error
		)
		if err := l.onQueue("LoadImagesInSubdirectory", func() {
			for _, g := range groups {
				img, err := l.imageLocked(dir, g.base, g.jpeg, g.raw)
				if err != nil {
					qerr = err
					return
				}
				images = append(images, img)
			}
		}); err != nil {
			return err
		}
		if qerr != nil {
			return qerr
		}
		for _, img := range images {
			fn(img)
		}
	}

	for _, sub := range subdirs {
		if err := l.loadImages(ctx, sub, true, fn); err != nil {
			return err
		}
	}
	return nil
}

// fileGroup collects the files of one image. The first JPEG and the first
// RAW file of a base name, in name order, share the base name as sidecar
// key. Any further file of the same kind is an image of its own keyed by its
// full file name.
type fileGroup struct {
	base string
	jpeg string
	raw  string
}

// add reports false when the group already holds a file of kind.
func (g *fileGroup) add(kind FileType, name string) bool {
	switch {
	case kind == TypeJPEG && g.jpeg == "":
		g.jpeg = name
	case kind == TypeRAW && g.raw == "":
		g.raw = name
	default:
		return false
	}
	return true
}

func sortedEntries(entries []fs.FileInfo) []fs.FileInfo {
	out := slices.Clone(entries)
	slices.SortFunc(out, func(a, b fs.FileInfo) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}
