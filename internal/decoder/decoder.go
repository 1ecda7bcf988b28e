// Package decoder reads pixel sizes, EXIF metadata and previews from image
// file contents.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register formats for image.Decode
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/nfnt/resize"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"pd-go/internal/pd"
)

// ErrNoImageData is returned when neither the image codecs nor the EXIF
// reader recognize the contents.
var ErrNoImageData = errors.New("no decodable image data")

// exifDateLayout is the EXIF DateTime format.
const exifDateLayout = "2006:01:02 15:04:05"

// Decoder implements pd.Decoder with the standard image codecs and goexif.
// RAW files are read through their EXIF header and embedded thumbnail.
type Decoder struct{}

var _ pd.Decoder = (*Decoder)(nil)

func New() *Decoder { return &Decoder{} }

func (d *Decoder) Decode(name string, data []byte) (*pd.ImageInfo, error) {
	info := &pd.ImageInfo{Metadata: make(map[string]string)}

	cfg, format, cfgErr := image.DecodeConfig(bytes.NewReader(data))
	if cfgErr == nil {
		info.Width, info.Height = cfg.Width, cfg.Height
		info.Metadata["Format"] = format
	}

	x, exifErr := exif.Decode(bytes.NewReader(data))
	if exifErr == nil {
		applyExif(info, x)
	}

	if cfgErr != nil && exifErr != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, ErrNoImageData)
	}
	return info, nil
}

func applyExif(info *pd.ImageInfo, x *exif.Exif) {
	x.Walk(walkFunc(func(field exif.FieldName, tag *tiff.Tag) error {
		if v := tagString(tag); v != "" {
			info.Metadata[string(field)] = v
		}
		return nil
	}))

	if n, ok := tagInt(x, exif.Orientation); ok && n >= 1 && n <= 8 {
		info.Orientation = n
	}
	if t, ok := dateTaken(x); ok {
		info.DateTaken = t
	}
	info.CameraMake = tagText(x, exif.Make)
	info.CameraModel = tagText(x, exif.Model)

	// RAW containers are not understood by image.DecodeConfig.
	if info.Width == 0 || info.Height == 0 {
		w, okW := tagInt(x, exif.PixelXDimension)
		h, okH := tagInt(x, exif.PixelYDimension)
		if okW && okH {
			info.Width, info.Height = w, h
		}
	}
}

type walkFunc func(exif.FieldName, *tiff.Tag) error

func (f walkFunc) Walk(name exif.FieldName, tag *tiff.Tag) error { return f(name, tag) }

func tagString(tag *tiff.Tag) string {
	if tag.Format() == tiff.StringVal {
		s, err := tag.StringVal()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(s, "\x00"))
	}
	// Undefined-format tags hold maker blobs.
	if tag.Format() == tiff.UndefVal {
		return ""
	}
	return tag.String()
}

func tagInt(x *exif.Exif, field exif.FieldName) (int, bool) {
	tag, err := x.Get(field)
	if err != nil {
		return 0, false
	}
	n, err := tag.Int(0)
	if err != nil {
		return 0, false
	}
	return n, true
}

func tagText(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

// dateTaken prefers DateTimeOriginal over the modification DateTime.
func dateTaken(x *exif.Exif) (time.Time, bool) {
	if s := tagText(x, exif.DateTimeOriginal); s != "" {
		if t, err := time.ParseInLocation(exifDateLayout, s, time.Local); err == nil {
			return t, true
		}
	}
	t, err := x.DateTime()
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Preview decodes the image, applies its EXIF orientation and scales it to
// fit maxPixels. Files the codecs cannot read fall back to the embedded EXIF
// thumbnail.
func (d *Decoder) Preview(name string, data []byte, maxPixels int) (image.Image, error) {
	if maxPixels <= 0 {
		return nil, fmt.Errorf("invalid preview size %d", maxPixels)
	}

	orientation := 1
	x, exifErr := exif.Decode(bytes.NewReader(data))
	if exifErr == nil {
		if n, ok := tagInt(x, exif.Orientation); ok {
			orientation = n
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if exifErr != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		thumb, terr := x.JpegThumbnail()
		if terr != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		if img, _, err = image.Decode(bytes.NewReader(thumb)); err != nil {
			return nil, fmt.Errorf("decoding thumbnail of %s: %w", name, err)
		}
	}

	b := img.Bounds()
	if b.Dx() > maxPixels || b.Dy() > maxPixels {
		img = resize.Thumbnail(uint(maxPixels), uint(maxPixels), img, resize.Lanczos3)
	}
	return orient(img, orientation), nil
}
