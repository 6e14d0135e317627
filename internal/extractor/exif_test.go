package extractor

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-compressor-go/internal/testutil"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestExtractOrientation(t *testing.T) {
	e := NewEXIFExtractor(quietLogger())
	plain := testutil.JPEG(t, testutil.Gradient(16, 8), 90)

	assert.Equal(t, OrientationNormal, e.ExtractOrientation(plain))
	assert.Equal(t, OrientationRotate270, e.ExtractOrientation(testutil.WithOrientation(t, plain, 6)))
	assert.Equal(t, OrientationRotate90, e.ExtractOrientation(testutil.WithOrientation(t, plain, 8)))
}

func TestExtractOrientation_InvalidTagFallsBack(t *testing.T) {
	e := NewEXIFExtractor(quietLogger())
	plain := testutil.JPEG(t, testutil.Gradient(16, 8), 90)
	assert.Equal(t, OrientationNormal, e.ExtractOrientation(testutil.WithOrientation(t, plain, 42)))
}

func TestExtractOrientation_NonImage(t *testing.T) {
	e := NewEXIFExtractor(quietLogger())
	assert.Equal(t, OrientationNormal, e.ExtractOrientation([]byte("garbage")))
	assert.Equal(t, OrientationNormal, e.ExtractOrientation(nil))
}

func TestExtractDate_Missing(t *testing.T) {
	e := NewEXIFExtractor(quietLogger())
	_, err := e.ExtractDate(testutil.JPEG(t, testutil.Gradient(8, 8), 90))
	require.Error(t, err)
}

func TestCacheStats(t *testing.T) {
	e := NewEXIFExtractor(quietLogger())
	data := testutil.WithOrientation(t, testutil.JPEG(t, testutil.Gradient(16, 8), 90), 3)

	for i := 0; i < 3; i++ {
		assert.Equal(t, OrientationRotate180, e.ExtractOrientation(data))
	}

	stats := e.GetCacheStats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, 1, stats.Size)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)

	e.ClearCache()
	assert.Equal(t, CacheStats{}, e.GetCacheStats())
}

func TestParseEXIFDateTime(t *testing.T) {
	d := parseEXIFDateTime("2023:12:25 15:30:45")
	require.NotNil(t, d)
	assert.Equal(t, 2023, d.Year())
	assert.Equal(t, 25, d.Day())
	assert.Nil(t, parseEXIFDateTime("not a date"))
	assert.Nil(t, parseEXIFDateTime(""))
}

func TestOrientation(t *testing.T) {
	assert.True(t, OrientationRotate90.SwapsAxes())
	assert.False(t, OrientationRotate180.SwapsAxes())
	assert.False(t, Orientation(0).Valid())
	assert.Equal(t, "Unknown", Orientation(9).String())
}
