package pd

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Property keys. Explicit keys are stored in the directory sidecar and may be
// set by users; implicit keys are derived from the file and are read only.
const (
	KeyUUID     = "UUID"
	KeyRating   = "Rating"
	KeyFlagged  = "Flagged"
	KeyHidden   = "Hidden"
	KeyDeleted  = "Deleted"
	KeyKeywords = "Keywords"
	KeyCaption  = "Caption"
	KeyTitle    = "Title"

	KeyFileName    = "File Name"
	KeyFilePath    = "File Path"
	KeyFileDate    = "File Date"
	KeyFileSize    = "File Size"
	KeyPixelWidth  = "Pixel Width"
	KeyPixelHeight = "Pixel Height"
	KeyOrientation = "Orientation"
	KeyDateTaken   = "Date Taken"
	KeyCameraMake  = "Camera Make"
	KeyCameraModel = "Camera Model"

	// MetadataKeyPrefix prefixes raw decoder metadata keys, e.g. "EXIF:FNumber".
	MetadataKeyPrefix = "EXIF:"
)

// Rating bounds. -1 marks a rejected image.
const (
	MinRating = -1
	MaxRating = 5
)

var implicitKeys = map[string]bool{
	KeyFileName:    true,
	KeyFilePath:    true,
	KeyFileDate:    true,
	KeyFileSize:    true,
	KeyPixelWidth:  true,
	KeyPixelHeight: true,
	KeyOrientation: true,
	KeyDateTaken:   true,
	KeyCameraMake:  true,
	KeyCameraModel: true,
}

// IsEditableKey reports whether SetProperty accepts key.
func IsEditableKey(key string) bool {
	if key == "" || key == KeyUUID || implicitKeys[key] {
		return false
	}
	return !strings.HasPrefix(key, MetadataKeyPrefix)
}

// Active file types recorded in ExplicitProperties.ActiveType.
const (
	ActiveJPEG = "jpeg"
	ActiveRAW  = "raw"
)

// ExplicitProperties are the user-editable properties of one image as stored
// in its directory sidecar. They take precedence over implicit properties.
type ExplicitProperties struct {
	UUID       string            `json:"uuid,omitempty"`
	Rating     *int              `json:"rating,omitempty"`
	Flagged    bool              `json:"flagged,omitempty"`
	Hidden     bool              `json:"hidden,omitempty"`
	Deleted    bool              `json:"deleted,omitempty"`
	Keywords   []string          `json:"keywords,omitempty"`
	Caption    string            `json:"caption,omitempty"`
	Title      string            `json:"title,omitempty"`
	ActiveType string            `json:"active_type,omitempty"`
	FileTypes  map[string]string `json:"file_types,omitempty"`
	Extra      map[string]Value  `json:"extra,omitempty"`
}

// Clone returns a deep copy.
func (p ExplicitProperties) Clone() ExplicitProperties {
	c := p
	if p.Rating != nil {
		r := *p.Rating
		c.Rating = &r
	}
	c.Keywords = slices.Clone(p.Keywords)
	c.FileTypes = maps.Clone(p.FileTypes)
	c.Extra = maps.Clone(p.Extra)
	return c
}

// Get returns the explicit value for key.
func (p *ExplicitProperties) Get(key string) (Value, bool) {
	switch key {
	case KeyUUID:
		return StringValue(p.UUID), p.UUID != ""
	case KeyRating:
		if p.Rating == nil {
			return Value{}, false
		}
		return IntValue(int64(*p.Rating)), true
	case KeyFlagged:
		return BoolValue(p.Flagged), true
	case KeyHidden:
		return BoolValue(p.Hidden), true
	case KeyDeleted:
		return BoolValue(p.Deleted), true
	case KeyKeywords:
		return StringsValue(p.Keywords), len(p.Keywords) > 0
	case KeyCaption:
		return StringValue(p.Caption), p.Caption != ""
	case KeyTitle:
		return StringValue(p.Title), p.Title != ""
	}
	v, ok := p.Extra[key]
	return v, ok
}

// Set validates and stores value under key. An invalid Value clears the key.
func (p *ExplicitProperties) Set(key string, value Value) error {
	if !IsEditableKey(key) {
		return fmt.Errorf("%s: %w", key, ErrNotEditable)
	}
	unset := !value.IsValid()

	switch key {
	case KeyRating:
		if unset {
			p.Rating = nil
			return nil
		}
		r, ok := value.AsInt()
		if !ok || r < MinRating || r > MaxRating {
			return fmt.Errorf("%s must be an integer in %d..%d, got %s: %w", key, MinRating, MaxRating, value, ErrInvalidValue)
		}
		ri := int(r)
		p.Rating = &ri
	case KeyFlagged, KeyHidden, KeyDeleted:
		b, ok := value.AsBool()
		if !ok && !unset {
			return fmt.Errorf("%s must be a boolean: %w", key, ErrInvalidValue)
		}
		switch key {
		case KeyFlagged:
			p.Flagged = b
		case KeyHidden:
			p.Hidden = b
		default:
			p.Deleted = b
		}
	case KeyKeywords:
		if unset {
			p.Keywords = nil
			return nil
		}
		if ss, ok := value.AsStrings(); ok {
			p.Keywords = ss
		} else if s, ok := value.AsString(); ok {
			p.Keywords = []string{s}
		} else {
			return fmt.Errorf("%s must be a string list: %w", key, ErrInvalidValue)
		}
	case KeyCaption, KeyTitle:
		s, ok := value.AsString()
		if !ok && !unset {
			s = value.String()
		}
		if key == KeyCaption {
			p.Caption = s
		} else {
			p.Title = s
		}
	default:
		if unset {
			delete(p.Extra, key)
			return nil
		}
		if p.Extra == nil {
			p.Extra = make(map[string]Value)
		}
		p.Extra[key] = value
	}
	return nil
}

// withoutIdentity returns a copy suitable for a duplicated image: no UUID and
// no file bookkeeping.
func (p ExplicitProperties) withoutIdentity() ExplicitProperties {
	c := p.Clone()
	c.UUID = ""
	c.ActiveType = ""
	c.FileTypes = nil
	return c
}

// ImplicitProperties are derived from the active file and its decoded content.
type ImplicitProperties struct {
	FileName string
	FilePath string
	FileDate time.Time
	FileSize int64
	Info     *ImageInfo // nil when decoding failed or no decoder is configured
}

// Get returns the implicit value for key.
func (p *ImplicitProperties) Get(key string) (Value, bool) {
	switch key {
	case KeyFileName:
		return StringValue(p.FileName), true
	case KeyFilePath:
		return StringValue(p.FilePath), true
	case KeyFileDate:
		return TimeValue(p.FileDate), !p.FileDate.IsZero()
	case KeyFileSize:
		return IntValue(p.FileSize), true
	}
	if p.Info == nil {
		return Value{}, false
	}
	switch key {
	case KeyPixelWidth:
		return IntValue(int64(p.Info.Width)), p.Info.Width > 0
	case KeyPixelHeight:
		return IntValue(int64(p.Info.Height)), p.Info.Height > 0
	case KeyOrientation:
		return IntValue(int64(p.Info.Orientation)), p.Info.Orientation > 0
	case KeyDateTaken:
		return TimeValue(p.Info.DateTaken), !p.Info.DateTaken.IsZero()
	case KeyCameraMake:
		return StringValue(p.Info.CameraMake), p.Info.CameraMake != ""
	case KeyCameraModel:
		return StringValue(p.Info.CameraModel), p.Info.CameraModel != ""
	}
	if name, ok := strings.CutPrefix(key, MetadataKeyPrefix); ok {
		v, found := p.Info.Metadata[name]
		return StringValue(v), found
	}
	return Value{}, false
}

// Keys lists every implicit key that has a value.
func (p *ImplicitProperties) Keys() []string {
	keys := []string{KeyFileName, KeyFilePath, KeyFileSize}
	for _, k := range []string{KeyFileDate, KeyPixelWidth, KeyPixelHeight, KeyOrientation, KeyDateTaken, KeyCameraMake, KeyCameraModel} {
		if _, ok := p.Get(k); ok {
			keys = append(keys, k)
		}
	}
	if p.Info != nil {
		names := slices.Sorted(maps.Keys(p.Info.Metadata))
		for _, n := range names {
			keys = append(keys, MetadataKeyPrefix+n)
		}
	}
	return keys
}
