package codec

import (
	"bytes"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"image-compressor-go/internal/testutil"
)

func TestDecode_JPEGAndPNG(t *testing.T) {
	src := testutil.Gradient(64, 48)

	img, format, err := Decode(testutil.JPEG(t, src, 90))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())

	img, format, err = Decode(testutil.PNG(t, src))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 64, img.Bounds().Dx())
}

func TestDecode_BMPAndTIFF(t *testing.T) {
	src := testutil.Gradient(30, 20)

	var bmpBuf bytes.Buffer
	require.NoError(t, bmp.Encode(&bmpBuf, src))
	img, format, err := Decode(bmpBuf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "bmp", format)
	assert.Equal(t, image.Rect(0, 0, 30, 20), img.Bounds())

	var tiffBuf bytes.Buffer
	require.NoError(t, tiff.Encode(&tiffBuf, src, nil))
	img, format, err = Decode(tiffBuf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "tiff", format)
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestDecode_Corrupt(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("definitely not an image"),
		"truncated": testutil.JPEG(t, testutil.Gradient(32, 32), 80)[:40],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode), "got %v", err)
		})
	}
}

func TestEncode_RejectsQuality(t *testing.T) {
	img := testutil.Gradient(8, 8)
	for _, q := range []int{0, -5, 101} {
		_, err := Encode(img, q)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEncode)
	}
}

func TestEncode_RoundTripDimensions(t *testing.T) {
	out, err := Encode(testutil.Gradient(40, 30), 75)
	require.NoError(t, err)

	cfg, format, err := DecodeConfig(out)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestFlatten_TransparentBecomesWhite(t *testing.T) {
	flat := Flatten(testutil.Transparent(10, 10))
	r, g, b, a := flat.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)

	opaque := testutil.Gradient(4, 4)
	assert.Same(t, opaque, Flatten(opaque).(*image.NRGBA))
}

func TestClampQuality(t *testing.T) {
	assert.Equal(t, 0.10, ClampQuality(0.01))
	assert.Equal(t, 1.00, ClampQuality(3))
	assert.Equal(t, 0.55, ClampQuality(0.55))
	assert.True(t, math.IsNaN(ClampQuality(math.NaN())))
}

func TestQualityToJPEG(t *testing.T) {
	assert.Equal(t, 10, QualityToJPEG(0.10))
	assert.Equal(t, 80, QualityToJPEG(0.8))
	assert.Equal(t, 100, QualityToJPEG(1.0))
	assert.Equal(t, 29, QualityToJPEG(0.29))
}

func TestApplyOrientation_SwapsAxes(t *testing.T) {
	img := testutil.Gradient(20, 10)
	for o := 1; o <= 8; o++ {
		out := ApplyOrientation(img, o)
		if o >= 5 {
			assert.Equal(t, image.Pt(10, 20), out.Bounds().Size(), "orientation %d", o)
		} else {
			assert.Equal(t, image.Pt(20, 10), out.Bounds().Size(), "orientation %d", o)
		}
	}
}
