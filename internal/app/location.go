package app

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"pd-go/internal/fs"
	"pd-go/internal/pd"
)

// A location names a file or directory inside a library. The CLI accepts
// two forms:
//
//	3:2024/summer/img.jpg   library id, colon, library-relative path
//	./photos/img.jpg        local path inside a registered local library

// splitLibraryID splits "<id>:<path>". ok is false when raw has no numeric
// library prefix.
func splitLibraryID(raw string) (uint32, string, bool) {
	before, after, found := strings.Cut(raw, ":")
	if !found || before == "" {
		return 0, "", false
	}
	id, err := strconv.ParseUint(before, 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(id), after, true
}

func relPath(p string) string {
	p = path.Clean("/" + filepath.ToSlash(p))
	return strings.TrimPrefix(p, "/")
}

// resolve maps raw to a library and a library-relative path. With transient
// set, a local path outside every library opens a transient library rooted
// at its directory, which is how loose files are imported.
func (a *PDApp) resolve(raw string, transient bool) (*pd.Library, string, error) {
	if id, p, ok := splitLibraryID(raw); ok {
		lib := a.registry.LibraryWithID(id)
		if lib == nil {
			return nil, "", fmt.Errorf("library %d: %w", id, pd.ErrNoSuchLibrary)
		}
		return lib, relPath(p), nil
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return nil, "", fmt.Errorf("resolving path: %w", err)
	}

	var best *pd.Library
	var bestRel string
	for _, lib := range a.registry.AllLibraries() {
		spec := lib.Spec()
		if spec.Type != pd.SpecLocal {
			continue
		}
		rel, err := filepath.Rel(spec.Path, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(spec.Path) > len(best.Spec().Path) {
			best, bestRel = lib, rel
		}
	}
	if best != nil {
		return best, relPath(bestRel), nil
	}
	if !transient {
		return nil, "", fmt.Errorf("%s is not inside a library: %w", abs, pd.ErrNoSuchLibrary)
	}

	lib, err := a.registry.LibraryWithPath(pd.FileManagerSpec{
		Type:      pd.SpecLocal,
		Path:      filepath.Dir(abs),
		Transient: true,
	}, false)
	if err != nil {
		return nil, "", err
	}
	return lib, filepath.Base(abs), nil
}

// libraryRef resolves a library given by id or by location.
func (a *PDApp) libraryRef(ref string) (*pd.Library, error) {
	if id, err := strconv.ParseUint(ref, 10, 32); err == nil {
		lib := a.registry.LibraryWithID(uint32(id))
		if lib == nil {
			return nil, fmt.Errorf("library %d: %w", id, pd.ErrNoSuchLibrary)
		}
		return lib, nil
	}
	spec, err := fs.ParseSpec(ref)
	if err != nil {
		return nil, err
	}
	lib, err := a.registry.LibraryWithPath(spec, true)
	if err != nil {
		return nil, err
	}
	if lib == nil {
		return nil, fmt.Errorf("%s: %w", spec, pd.ErrNoSuchLibrary)
	}
	return lib, nil
}

// libraries resolves ref, or every library when ref is empty.
func (a *PDApp) libraries(ref string) ([]*pd.Library, error) {
	if ref == "" {
		return a.registry.AllLibraries(), nil
	}
	lib, err := a.libraryRef(ref)
	if err != nil {
		return nil, err
	}
	return []*pd.Library{lib}, nil
}

// imageAt returns the image whose JPEG or RAW file is p.
func imageAt(ctx context.Context, lib *pd.Library, p string) (*pd.Image, error) {
	dir, name := path.Split(p)
	dir = strings.TrimSuffix(dir, "/")

	var found *pd.Image
	err := lib.LoadImagesInSubdirectory(ctx, dir, false, func(img *pd.Image) {
		if found == nil && (img.JPEGFile() == name || img.RAWFile() == name) {
			found = img
		}
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("no image at %s", lib.FileURL(p))
	}
	return found, nil
}

// images resolves every raw location to an image.
func (a *PDApp) images(ctx context.Context, raws []string, transient bool) ([]*pd.Image, error) {
	out := make([]*pd.Image, 0, len(raws))
	for _, raw := range raws {
		lib, p, err := a.resolve(raw, transient)
		if err != nil {
			return nil, err
		}
		img, err := imageAt(ctx, lib, p)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, nil
}
