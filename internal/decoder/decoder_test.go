package decoder

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecoder_Decode(t *testing.T) {
	d := New()

	t.Run("jpeg without exif", func(t *testing.T) {
		info, err := d.Decode("a.jpg", encodeJPEG(t, testImage(40, 30)))
		require.NoError(t, err)
		assert.Equal(t, 40, info.Width)
		assert.Equal(t, 30, info.Height)
		assert.Equal(t, 0, info.Orientation)
		assert.Equal(t, "jpeg", info.Metadata["Format"])
		assert.True(t, info.DateTaken.IsZero())
	})

	t.Run("png", func(t *testing.T) {
		info, err := d.Decode("a.png", encodePNG(t, testImage(7, 9)))
		require.NoError(t, err)
		assert.Equal(t, 7, info.Width)
		assert.Equal(t, 9, info.Height)
		assert.Equal(t, "png", info.Metadata["Format"])
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := d.Decode("a.cr2", []byte("not an image at all"))
		assert.ErrorIs(t, err, ErrNoImageData)
	})
}

func TestDecoder_Preview(t *testing.T) {
	d := New()

	t.Run("scales down to fit", func(t *testing.T) {
		img, err := d.Preview("a.jpg", encodeJPEG(t, testImage(200, 100)), 50)
		require.NoError(t, err)
		b := img.Bounds()
		assert.Equal(t, 50, b.Dx())
		assert.Equal(t, 25, b.Dy())
	})

	t.Run("keeps small images", func(t *testing.T) {
		img, err := d.Preview("a.png", encodePNG(t, testImage(20, 10)), 50)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 20, 10), img.Bounds())
	})

	t.Run("invalid size", func(t *testing.T) {
		_, err := d.Preview("a.png", encodePNG(t, testImage(2, 2)), 0)
		assert.Error(t, err)
	})

	t.Run("undecodable", func(t *testing.T) {
		_, err := d.Preview("a.cr2", []byte("raw bytes"), 50)
		assert.Error(t, err)
	})
}

func TestOrient(t *testing.T) {
	// 3x2 image with a marked top-left pixel.
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	mark := color.NRGBA{R: 255, A: 255}
	src.SetNRGBA(0, 0, mark)

	tests := []struct {
		orientation int
		size        image.Point
		markAt      image.Point
	}{
		{orientation: 1, size: image.Pt(3, 2), markAt: image.Pt(0, 0)},
		{orientation: 2, size: image.Pt(3, 2), markAt: image.Pt(2, 0)},
		{orientation: 3, size: image.Pt(3, 2), markAt: image.Pt(2, 1)},
		{orientation: 4, size: image.Pt(3, 2), markAt: image.Pt(0, 1)},
		{orientation: 5, size: image.Pt(2, 3), markAt: image.Pt(0, 0)},
		{orientation: 6, size: image.Pt(2, 3), markAt: image.Pt(1, 0)},
		{orientation: 7, size: image.Pt(2, 3), markAt: image.Pt(1, 2)},
		{orientation: 8, size: image.Pt(2, 3), markAt: image.Pt(0, 2)},
	}
	for _, tt := range tests {
		got := orient(src, tt.orientation)
		assert.Equal(t, tt.size, got.Bounds().Size(), "orientation %d size", tt.orientation)
		r, _, _, _ := got.At(tt.markAt.X, tt.markAt.Y).RGBA()
		assert.Equal(t, uint32(0xffff), r, "orientation %d mark", tt.orientation)
	}
}
