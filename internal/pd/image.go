package pd

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pd-go/internal/catalog"
)

// Image is one logical photo: a JPEG and/or a RAW file with the same base
// name in one library directory. It holds its library by id and resolves it
// through the registry, so an Image never keeps an invalidated library alive.
type Image struct {
	registry  *Registry
	libraryID uint32
	primaryID uint32

	mu       sync.Mutex
	dir      string
	base     string
	jpeg     string
	jpegID   uint32
	raw      string
	rawID    uint32
	usesRAW  bool
	explicit ExplicitProperties
	implicit *ImplicitProperties
	removed  bool

	prefetch prefetchState
}

// imageFile is one backing file of an image.
type imageFile struct {
	name string
	id   uint32
	kind FileType
}

// imageSnapshot is a consistent copy of the file state of an image.
type imageSnapshot struct {
	dir      string
	base     string
	files    []imageFile
	usesRAW  bool
	explicit ExplicitProperties
}

func (s imageSnapshot) file(kind FileType) (imageFile, bool) {
	for _, f := range s.files {
		if f.kind == kind {
			return f, true
		}
	}
	return imageFile{}, false
}

// stem is the base name of the first backing file. It is the sidecar key the
// image takes in a directory where no other image shares it.
func (s imageSnapshot) stem() string {
	if len(s.files) == 0 {
		return s.base
	}
	return baseName(s.files[0].name)
}

func (img *Image) snapshot() (imageSnapshot, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.removed {
		return imageSnapshot{}, ErrImageRemoved
	}
	s := imageSnapshot{
		dir:      img.dir,
		base:     img.base,
		usesRAW:  img.usesRAW,
		explicit: img.explicit.Clone(),
	}
	if img.jpeg != "" {
		s.files = append(s.files, imageFile{name: img.jpeg, id: img.jpegID, kind: TypeJPEG})
	}
	if img.raw != "" {
		s.files = append(s.files, imageFile{name: img.raw, id: img.rawID, kind: TypeRAW})
	}
	return s, nil
}

// Name returns the process-wide name of the image.
func (img *Image) Name() ImageName {
	return ImageName{LibraryID: img.libraryID, ImageID: img.primaryID}
}

func (img *Image) LibraryID() uint32 { return img.libraryID }

// Library resolves the owning library. It fails once the library was
// removed or invalidated.
func (img *Image) Library() (*Library, error) {
	lib := img.registry.LibraryWithID(img.libraryID)
	if lib == nil || !lib.IsActive() {
		return nil, fmt.Errorf("image %s: %w", img.Name(), ErrInvalidated)
	}
	return lib, nil
}

func (img *Image) Directory() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.dir
}

// BaseName is the file name shared by the JPEG and RAW files, without extension.
func (img *Image) BaseName() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.base
}

func (img *Image) JPEGFile() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.jpeg
}

func (img *Image) RAWFile() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.raw
}

// File returns the name of the active backing file.
func (img *Image) File() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	name, _ := img.activeLocked()
	return name
}

// Path returns the library-relative path of the active backing file.
func (img *Image) Path() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	name, _ := img.activeLocked()
	return joinPath(img.dir, name)
}

// FileID returns the catalog id of the active backing file.
func (img *Image) FileID() uint32 {
	img.mu.Lock()
	defer img.mu.Unlock()
	_, id := img.activeLocked()
	return id
}

// fileTypesLocked maps the active types to the backing file names.
func (img *Image) fileTypesLocked() map[string]string {
	types := make(map[string]string, 2)
	if img.jpeg != "" {
		types[ActiveJPEG] = img.jpeg
	}
	if img.raw != "" {
		types[ActiveRAW] = img.raw
	}
	return types
}

func (img *Image) activeLocked() (string, uint32) {
	if img.usesRAW && img.raw != "" {
		return img.raw, img.rawID
	}
	if img.jpeg != "" {
		return img.jpeg, img.jpegID
	}
	return img.raw, img.rawID
}

func (img *Image) IsRemoved() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.removed
}

// ExplicitProperties returns a copy of the user-set properties.
func (img *Image) ExplicitProperties() ExplicitProperties {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.explicit.Clone()
}

// PropertyForKey looks key up in the explicit properties first and falls
// back to the implicit ones.
func (img *Image) PropertyForKey(key string) (Value, bool) {
	img.mu.Lock()
	v, ok := img.explicit.Get(key)
	img.mu.Unlock()
	if ok {
		return v, true
	}
	return img.ImplicitProperties().Get(key)
}

// ImplicitProperties returns the properties derived from the active file,
// reading and decoding it on first use.
func (img *Image) ImplicitProperties() *ImplicitProperties {
	img.mu.Lock()
	if img.implicit != nil {
		p := img.implicit
		img.mu.Unlock()
		return p
	}
	name, _ := img.activeLocked()
	dir := img.dir
	p := joinPath(dir, name)
	img.mu.Unlock()

	lib, err := img.Library()
	if err != nil {
		return &ImplicitProperties{FileName: name, FilePath: p}
	}
	props := lib.implicitPropertiesOf(p)

	img.mu.Lock()
	defer img.mu.Unlock()
	if cur, _ := img.activeLocked(); cur == name && img.dir == dir {
		img.implicit = props
	}
	return props
}

// SetProperty stores value under key in the explicit properties and marks
// the directory sidecar for writing at the next Synchronize. An invalid
// Value removes the key.
func (img *Image) SetProperty(key string, value Value) error {
	if !IsEditableKey(key) {
		return fmt.Errorf("%s: %w", key, ErrNotEditable)
	}
	changed, err := img.updateExplicit("SetProperty", func(p *ExplicitProperties) (bool, error) {
		if old, ok := p.Get(key); ok && value.IsValid() && old.Equal(value) {
			return false, nil
		}
		if err := p.Set(key, value); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if changed {
		img.emitPropertyChanged(key)
	}
	return nil
}

// UUID returns the image UUID, allocating and persisting one on first use.
func (img *Image) UUID() (string, error) {
	if id, ok := img.UUIDIfDefined(); ok {
		return id, nil
	}
	lib, err := img.Library()
	if err != nil {
		return "", err
	}
	var id string
	changed, err := img.updateExplicit("UUID", func(p *ExplicitProperties) (bool, error) {
		if p.UUID != "" {
			id = p.UUID
			return false, nil
		}
		p.UUID = lib.ids.New()
		id = p.UUID
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if changed {
		img.emitPropertyChanged(KeyUUID)
	}
	return id, nil
}

// UUIDIfDefined returns the image UUID without allocating one.
func (img *Image) UUIDIfDefined() (string, bool) {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.explicit.UUID, img.explicit.UUID != ""
}

// UsesRAW reports whether the RAW file is the active one.
func (img *Image) UsesRAW() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.usesRAW
}

// SupportsUsesRAW reports whether the backing file for flag exists.
func (img *Image) SupportsUsesRAW(flag bool) bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	if flag {
		return img.raw != ""
	}
	return img.jpeg != ""
}

// SetUsesRAW selects the active file. It returns false and changes nothing
// when the requested file does not exist.
func (img *Image) SetUsesRAW(flag bool) bool {
	if !img.SupportsUsesRAW(flag) {
		return false
	}
	active := ActiveJPEG
	if flag {
		active = ActiveRAW
	}
	changed, err := img.updateExplicit("SetUsesRAW", func(p *ExplicitProperties) (bool, error) {
		if img.usesRAW == flag {
			return false, nil
		}
		p.ActiveType = active
		return true, nil
	})
	if err != nil {
		return false
	}
	if changed {
		img.mu.Lock()
		img.usesRAW = flag
		img.implicit = nil
		img.mu.Unlock()
		img.resetPreview()
		img.emitPropertyChanged(KeyFileName)
	}
	return true
}

// updateExplicit applies fn to a copy of the explicit properties on the
// library queue and stores the result in the sidecar when fn reports a change.
func (img *Image) updateExplicit(op string, fn func(p *ExplicitProperties) (bool, error)) (bool, error) {
	lib, err := img.Library()
	if err != nil {
		return false, err
	}
	var (
		changed bool
		ferr    error
	)
	err = lib.onQueue(op, func() {
		img.mu.Lock()
		defer img.mu.Unlock()
		if img.removed {
			ferr = ErrImageRemoved
			return
		}
		props := img.explicit.Clone()
		changed, ferr = fn(&props)
		if ferr != nil || !changed {
			return
		}
		props.FileTypes = img.fileTypesLocked()
		if ferr = lib.storeSidecarEntryLocked(img.dir, img.base, props); ferr == nil {
			img.explicit = props
		}
	})
	if err != nil {
		return false, err
	}
	return changed && ferr == nil, ferr
}

func (img *Image) emitPropertyChanged(key string) {
	if lib, err := img.Library(); err == nil {
		lib.emit(Event{Kind: EventPropertyChanged, Path: img.Path(), Image: img.Name(), Key: key})
	}
}

// MoveToDirectory moves every backing file to dir. Either all files move or
// none does.
func (img *Image) MoveToDirectory(dir string) error {
	lib, err := img.Library()
	if err != nil {
		return err
	}
	return lib.MoveImage(img, dir)
}

// CopyToDirectory copies every backing file to dir and returns the new image.
func (img *Image) CopyToDirectory(dir string) (*Image, error) {
	lib, err := img.Library()
	if err != nil {
		return nil, err
	}
	return lib.CopyImage(img, dir)
}

// Remove deletes the backing files and drops their catalog entries.
// Removing an image that is already removed does nothing.
func (img *Image) Remove() error {
	if img.IsRemoved() {
		return nil
	}
	lib, err := img.Library()
	if err != nil {
		return err
	}
	return lib.removeImage(img)
}

// RemoveImages removes every image, possibly across libraries. Failures are
// collected into a *BatchError.
func RemoveImages(images []*Image) error {
	b := batch{total: len(images)}
	for i, img := range images {
		if err := img.Remove(); err != nil {
			b.add(i, img.Path(), err)
		}
	}
	return b.err()
}

// Convenience accessors over the property store.

func (img *Image) Title() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.explicit.Title != "" {
		return img.explicit.Title
	}
	return img.base
}

func (img *Image) Caption() string {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.explicit.Caption
}

func (img *Image) Keywords() []string {
	img.mu.Lock()
	defer img.mu.Unlock()
	return append([]string(nil), img.explicit.Keywords...)
}

// Rating returns the rating, 0 when unset.
func (img *Image) Rating() int {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.explicit.Rating == nil {
		return 0
	}
	return *img.explicit.Rating
}

func (img *Image) IsFlagged() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.explicit.Flagged
}

func (img *Image) IsHidden() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.explicit.Hidden
}

// IsDeleted reports whether the image was rejected. The files still exist.
func (img *Image) IsDeleted() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.explicit.Deleted
}

// PixelSize returns the stored pixel dimensions, 0x0 when unknown.
func (img *Image) PixelSize() (int, int) {
	info := img.ImplicitProperties().Info
	if info == nil {
		return 0, 0
	}
	return info.Width, info.Height
}

// Orientation returns the EXIF orientation, 1 when unknown.
func (img *Image) Orientation() int {
	info := img.ImplicitProperties().Info
	if info == nil || info.Orientation == 0 {
		return 1
	}
	return info.Orientation
}

// OrientedPixelSize returns the displayed dimensions.
func (img *Image) OrientedPixelSize() (int, int) {
	info := img.ImplicitProperties().Info
	if info == nil {
		return 0, 0
	}
	return info.OrientedSize()
}

// Date returns when the photo was taken, falling back to the file time.
func (img *Image) Date() time.Time {
	p := img.ImplicitProperties()
	if p.Info != nil && !p.Info.DateTaken.IsZero() {
		return p.Info.DateTaken
	}
	return p.FileDate
}

func (img *Image) String() string {
	return fmt.Sprintf("%s (%s)", img.Path(), img.Name())
}

// implicitPropertiesOf stats and decodes one library file. Decoder failures
// leave Info nil.
func (l *Library) implicitPropertiesOf(p string) *ImplicitProperties {
	_, name := splitPath(p)
	props := &ImplicitProperties{FileName: name, FilePath: p}

	fi, err := l.fm.Stat(p)
	if err != nil {
		l.logger.Debug("stat failed", "path", p, "error", err)
		return props
	}
	props.FileSize = fi.Size()
	props.FileDate = fi.ModTime()

	if l.decoder == nil {
		return props
	}
	data, err := l.fm.ContentsOfFile(p)
	if err != nil {
		l.logger.Debug("reading image failed", "path", p, "error", err)
		return props
	}
	info, err := l.decoder.Decode(name, data)
	if err != nil {
		if !errors.Is(err, ErrUnsupportedType) {
			l.logger.Debug("decoding image failed", "path", p, "error", err)
		}
		return props
	}
	props.Info = info
	return props
}

// imageLocked returns the image backed by jpeg and raw in dir, creating it
// and allocating catalog ids on first sight. A new image reads its explicit
// properties from the sidecar entry named base. Must run on the library queue.
func (l *Library) imageLocked(dir, base, jpeg, raw string) (*Image, error) {
	var jpegID, rawID uint32
	if jpeg != "" {
		jpegID = l.catalog.FileIDForPath(joinPath(dir, jpeg))
	}
	if raw != "" {
		rawID = l.catalog.FileIDForPath(joinPath(dir, raw))
	}
	if jpegID == 0 && rawID == 0 {
		if l.catalog.Exhausted() {
			return nil, fmt.Errorf("registering image in %q: %w", dir, catalog.ErrExhausted)
		}
		return nil, fmt.Errorf("registering image in %q: %w", dir, ErrInvalidated)
	}

	for _, id := range []uint32{jpegID, rawID} {
		img := l.images[id]
		if id == 0 || img == nil {
			continue
		}
		img.mu.Lock()
		attached := false
		if img.jpeg == "" && jpeg != "" {
			img.jpeg, img.jpegID = jpeg, jpegID
			l.images[jpegID] = img
			attached = true
		}
		if img.raw == "" && raw != "" {
			img.raw, img.rawID = raw, rawID
			l.images[rawID] = img
			attached = true
		}
		if attached {
			l.recordFileTypesLocked(img)
		}
		img.mu.Unlock()
		return img, nil
	}

	primary := jpegID
	if primary == 0 {
		primary = rawID
	}
	props, err := l.sidecarEntryLocked(dir, base)
	if err != nil {
		return nil, err
	}
	img := &Image{
		registry:  l.registry,
		libraryID: l.id,
		primaryID: primary,
		dir:       dir,
		base:      base,
		jpeg:      jpeg,
		jpegID:    jpegID,
		raw:       raw,
		rawID:     rawID,
		usesRAW:   raw != "" && (jpeg == "" || props.ActiveType == ActiveRAW),
		explicit:  props,
	}
	if jpegID != 0 {
		l.images[jpegID] = img
	}
	if rawID != 0 {
		l.images[rawID] = img
	}
	l.recordFileTypesLocked(img)
	return img, nil
}
