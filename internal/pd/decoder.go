package pd

import (
	"image"
	"time"
)

// Decoder extracts image metadata and previews from file contents.
// Implementations are synchronous and side-effect free. A failure means no
// implicit properties are available for the file.
type Decoder interface {
	// Decode returns dimensions, orientation and raw metadata. name is the
	// file name, used to pick a format when the content is ambiguous.
	Decode(name string, data []byte) (*ImageInfo, error)

	// Preview returns an image no larger than maxPixels on its longest edge.
	Preview(name string, data []byte, maxPixels int) (image.Image, error)
}

// ImageInfo is what a Decoder knows about one file.
type ImageInfo struct {
	Width       int
	Height      int
	Orientation int // EXIF orientation 1..8; 0 if unknown
	DateTaken   time.Time
	CameraMake  string
	CameraModel string
	Metadata    map[string]string
}

// OrientedSize returns the displayed size, swapping width and height for
// orientations 5 to 8.
func (i *ImageInfo) OrientedSize() (int, int) {
	if i.Orientation >= 5 && i.Orientation <= 8 {
		return i.Height, i.Width
	}
	return i.Width, i.Height
}
