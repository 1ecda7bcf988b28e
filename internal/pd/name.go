package pd

import (
	"fmt"
	"strconv"
	"strings"
)

// ImageName identifies an image across the process: the owning library id
// and the catalog id of the image's primary file. It is comparable and stays
// valid while the image moves within its library.
type ImageName struct {
	LibraryID uint32
	ImageID   uint32
}

func (n ImageName) String() string {
	return fmt.Sprintf("%d:%d", n.LibraryID, n.ImageID)
}

// IsZero reports whether n names nothing.
func (n ImageName) IsZero() bool { return n.ImageID == 0 }

// ParseImageName parses the form produced by String.
func ParseImageName(s string) (ImageName, error) {
	lib, img, ok := strings.Cut(s, ":")
	if !ok {
		return ImageName{}, fmt.Errorf("invalid image name %q", s)
	}
	l, err := strconv.ParseUint(lib, 10, 32)
	if err != nil {
		return ImageName{}, fmt.Errorf("invalid library id in %q: %w", s, err)
	}
	i, err := strconv.ParseUint(img, 10, 32)
	if err != nil {
		return ImageName{}, fmt.Errorf("invalid image id in %q: %w", s, err)
	}
	return ImageName{LibraryID: uint32(l), ImageID: uint32(i)}, nil
}
