// Package codec is the raster codec backend: it turns source bytes into pixels
// and pixels into a lossy JPEG stream at a given quality.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// MinQuality and MaxQuality bound the normalized quality factor.
	MinQuality = 0.10
	MaxQuality = 1.00

	// MaxDecodePixels rejects inputs whose header claims an absurd canvas.
	MaxDecodePixels = 100_000_000
)

var (
	// ErrDecode marks input that is not a supported raster format or is corrupt.
	ErrDecode = errors.New("decode error")
	// ErrEncode marks parameters the encoder rejected.
	ErrEncode = errors.New("encode error")
)

// Decode decodes data into an image and reports the detected format name.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxDecodePixels {
		return nil, "", fmt.Errorf("%w: image too large (%dx%d)", ErrDecode, cfg.Width, cfg.Height)
	}

	// orientation is applied by the caller, which already parsed the EXIF block
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrDecode, format, err)
	}
	return img, format, nil
}

// DecodeConfig returns the dimensions and format without decoding pixels.
func DecodeConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return cfg, format, nil
}

// Encode writes img as a baseline JPEG at quality (1-100).
// Images with transparency are flattened onto white first.
func Encode(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrEncode)
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("%w: quality %d out of range [1,100]", ErrEncode, quality)
	}

	var buf bytes.Buffer
	buf.Grow(256 * 1024)

	if err := imaging.Encode(&buf, Flatten(img), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Flatten composites a non-opaque image over a white background.
func Flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// ClampQuality clamps q into [MinQuality, MaxQuality].
// NaN is returned unchanged so callers can reject it.
func ClampQuality(q float64) float64 {
	if math.IsNaN(q) {
		return q
	}
	return math.Min(MaxQuality, math.Max(MinQuality, q))
}

// QualityToJPEG maps a normalized quality factor to the encoder's 1-100 scale.
func QualityToJPEG(q float64) int {
	return int(math.Round(q * 100))
}
