package extractor

import (
	"time"
)

// MetadataExtractor reads the EXIF facts the compression pipeline needs
// from raw source bytes.
type MetadataExtractor interface {
	ExtractOrientation(data []byte) Orientation
	ExtractDate(data []byte) (*time.Time, error)
}

// CachedMetadataExtractor extends MetadataExtractor with caching capabilities.
type CachedMetadataExtractor interface {
	MetadataExtractor
	ClearCache()
	GetCacheStats() CacheStats
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64
	Misses       int64
	Size         int
	HitRate      float64
	TotalQueries int64
}

// Orientation is the EXIF orientation tag (1-8).
type Orientation int

const (
	OrientationNormal Orientation = iota + 1
	OrientationFlipH
	OrientationRotate180
	OrientationFlipV
	OrientationTranspose
	OrientationRotate270
	OrientationTransverse
	OrientationRotate90
)

// Valid reports whether o is one of the eight defined orientations.
func (o Orientation) Valid() bool {
	return o >= OrientationNormal && o <= OrientationRotate90
}

// SwapsAxes reports whether applying o exchanges width and height.
func (o Orientation) SwapsAxes() bool {
	return o >= OrientationTranspose && o <= OrientationRotate90
}

// String returns a human-readable description of the orientation.
func (o Orientation) String() string {
	switch o {
	case OrientationNormal:
		return "Normal"
	case OrientationFlipH:
		return "Mirror horizontal"
	case OrientationRotate180:
		return "Rotate 180"
	case OrientationFlipV:
		return "Mirror vertical"
	case OrientationTranspose:
		return "Mirror horizontal and rotate 270 CW"
	case OrientationRotate270:
		return "Rotate 90 CW"
	case OrientationTransverse:
		return "Mirror horizontal and rotate 90 CW"
	case OrientationRotate90:
		return "Rotate 270 CW"
	default:
		return "Unknown"
	}
}
