package extractor

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// EXIFExtractor extracts metadata from image bytes using EXIF tags.
// Parsed metadata is cached by content hash, so repeated requests over the
// same source (a quality slider) parse it only once.
type EXIFExtractor struct {
	logger *logrus.Logger
	cache  *sync.Map
	stats  CacheStats
	mutex  sync.RWMutex
}

type cachedMetadata struct {
	orientation Orientation
	date        *time.Time
}

// NewEXIFExtractor returns a new EXIFExtractor.
func NewEXIFExtractor(logger *logrus.Logger) *EXIFExtractor {
	return &EXIFExtractor{
		logger: logger,
		cache:  &sync.Map{},
		stats:  CacheStats{},
	}
}

// ExtractOrientation returns the EXIF orientation of data.
// Missing or malformed EXIF yields OrientationNormal.
func (e *EXIFExtractor) ExtractOrientation(data []byte) Orientation {
	return e.lookup(data).orientation
}

// ExtractDate returns the capture date recorded in EXIF.
func (e *EXIFExtractor) ExtractDate(data []byte) (*time.Time, error) {
	meta := e.lookup(data)
	if meta.date == nil {
		return nil, fmt.Errorf("no valid date found in EXIF")
	}
	date := *meta.date
	return &date, nil
}

// ClearCache removes all entries from the internal cache and resets statistics.
func (e *EXIFExtractor) ClearCache() {
	e.mutex.Lock()
	e.cache = &sync.Map{}
	e.stats = CacheStats{}
	e.mutex.Unlock()
}

// GetCacheStats returns cache statistics for this extractor.
func (e *EXIFExtractor) GetCacheStats() CacheStats {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	stats := e.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

func (e *EXIFExtractor) lookup(data []byte) cachedMetadata {
	key := xxhash.Sum64(data)

	e.mutex.RLock()
	cache := e.cache
	e.mutex.RUnlock()

	if value, ok := cache.Load(key); ok {
		e.incrementCacheHits()
		return value.(cachedMetadata)
	}
	e.incrementCacheMisses()

	meta := e.parse(data)
	if _, loaded := cache.LoadOrStore(key, meta); !loaded {
		e.mutex.Lock()
		e.stats.Size++
		e.mutex.Unlock()
	}
	return meta
}

// parse decodes the EXIF block using the rwcarlsen/goexif library.
func (e *EXIFExtractor) parse(data []byte) cachedMetadata {
	meta := cachedMetadata{orientation: OrientationNormal}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		e.logger.Debugf("No EXIF data: %v", err)
		return meta
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil && Orientation(v).Valid() {
			meta.orientation = Orientation(v)
		}
	}

	if tm, err := x.DateTime(); err == nil {
		meta.date = &tm
	} else if field, err := x.Get(exif.DateTimeDigitized); err == nil {
		if dateStr, err := field.StringVal(); err == nil {
			meta.date = parseEXIFDateTime(dateStr)
		}
	}

	return meta
}

// parseEXIFDateTime parses an EXIF date time string. Returns nil if parsing fails.
func parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		time.RFC3339,
	}

	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}

func (e *EXIFExtractor) incrementCacheHits() {
	e.mutex.Lock()
	e.stats.Hits++
	e.stats.TotalQueries++
	e.mutex.Unlock()
}

func (e *EXIFExtractor) incrementCacheMisses() {
	e.mutex.Lock()
	e.stats.Misses++
	e.stats.TotalQueries++
	e.mutex.Unlock()
}
