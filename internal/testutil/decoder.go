package testutil

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"pd-go/internal/pd"
)

// StubImage returns file contents the StubDecoder understands.
func StubImage(width, height, orientation int) []byte {
	return fmt.Appendf(nil, "STUB %d %d %d", width, height, orientation)
}

// StubDecoder decodes contents produced by StubImage. Anything else fails
// with pd.ErrUnsupportedType.
type StubDecoder struct {
	decodes  atomic.Int32
	previews atomic.Int32

	mu   sync.Mutex
	gate chan struct{}
}

func NewStubDecoder() *StubDecoder {
	return &StubDecoder{}
}

// Block makes Preview wait until the returned release func is called.
func (d *StubDecoder) Block() (release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gate := make(chan struct{})
	d.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// Decodes returns the number of Decode calls.
func (d *StubDecoder) Decodes() int { return int(d.decodes.Load()) }

// Previews returns the number of Preview calls.
func (d *StubDecoder) Previews() int { return int(d.previews.Load()) }

func parseStub(name string, data []byte) (*pd.ImageInfo, error) {
	var w, h, o int
	if _, err := fmt.Sscanf(string(data), "STUB %d %d %d", &w, &h, &o); err != nil {
		return nil, fmt.Errorf("%s: %w", name, pd.ErrUnsupportedType)
	}
	return &pd.ImageInfo{
		Width:       w,
		Height:      h,
		Orientation: o,
		Metadata:    map[string]string{"Format": "stub"},
	}, nil
}

func (d *StubDecoder) Decode(name string, data []byte) (*pd.ImageInfo, error) {
	d.decodes.Add(1)
	return parseStub(name, data)
}

// Preview returns a solid gray image scaled to fit maxPixels.
func (d *StubDecoder) Preview(name string, data []byte, maxPixels int) (image.Image, error) {
	d.previews.Add(1)
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	info, err := parseStub(name, data)
	if err != nil {
		return nil, err
	}
	w, h := info.Width, info.Height
	if w > maxPixels || h > maxPixels {
		if w >= h {
			w, h = maxPixels, max(1, h*maxPixels/w)
		} else {
			w, h = max(1, w*maxPixels/h), maxPixels
		}
	}
	img := image.NewGray(image.Rect(0, 0, max(w, 1), max(h, 1)))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return img, nil
}

// Compile-time check
var _ pd.Decoder = (*StubDecoder)(nil)
