package pd

import (
	"path"
	"strings"
)

// FileType is a bit set of backing file kinds.
type FileType uint8

const (
	TypeJPEG FileType = 1 << iota
	TypeRAW

	TypeAll = TypeJPEG | TypeRAW
)

func (t FileType) String() string {
	switch t {
	case TypeJPEG:
		return ActiveJPEG
	case TypeRAW:
		return ActiveRAW
	case TypeAll:
		return "all"
	default:
		return "none"
	}
}

// Has reports whether every bit of o is set in t.
func (t FileType) Has(o FileType) bool { return t&o == o }

// "JPEG" covers every rendered format the decoder understands.
var jpegExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".heic": true, ".tif": true, ".tiff": true,
}

var rawExtensions = map[string]bool{
	".cr2": true, ".cr3": true, ".crw": true, ".nef": true, ".nrw": true,
	".arw": true, ".srf": true, ".sr2": true, ".dng": true, ".raf": true,
	".orf": true, ".rw2": true, ".pef": true, ".srw": true, ".x3f": true,
	".3fr": true, ".erf": true, ".mrw": true, ".raw": true,
}

// FileTypeOf classifies a file name by extension. It returns 0 for files
// that are not images.
func FileTypeOf(name string) FileType {
	ext := strings.ToLower(path.Ext(name))
	switch {
	case jpegExtensions[ext]:
		return TypeJPEG
	case rawExtensions[ext]:
		return TypeRAW
	default:
		return 0
	}
}

// baseName strips the extension from a file name.
func baseName(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
