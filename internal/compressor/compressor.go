package compressor

import (
	"context"
	"errors"
	"fmt"

	"image-compressor-go/internal/codec"
	"image-compressor-go/internal/resizer"
)

const (
	// DefaultMaxEdgePixels bounds the longer output edge.
	DefaultMaxEdgePixels = resizer.DefaultMaxEdge
	// DefaultMaxOutputBytes is the best-effort output budget (1 MiB).
	DefaultMaxOutputBytes int64 = 1 << 20
	// DefaultQuality is the initial quality factor.
	DefaultQuality = 0.8

	// MinQualityPercent and MaxQualityPercent bound the integer quality
	// a UI control reports.
	MinQualityPercent = 10
	MaxQualityPercent = 100
)

// ErrInvalidQuality is returned for a quality percentage outside [10,100].
var ErrInvalidQuality = errors.New("quality must be between 10 and 100")

// Request is one compression job. It is passed by value and never modified
// after construction; Source must not be mutated by the caller afterwards.
type Request struct {
	ID             int64
	Source         []byte
	Quality        float64
	MaxEdgePixels  int
	MaxOutputBytes int64
}

// NewRequest builds a Request, substituting defaults for zero limits.
func NewRequest(id int64, source []byte, quality float64, maxEdgePixels int, maxOutputBytes int64) Request {
	if maxEdgePixels <= 0 {
		maxEdgePixels = DefaultMaxEdgePixels
	}
	if maxOutputBytes <= 0 {
		maxOutputBytes = DefaultMaxOutputBytes
	}
	return Request{
		ID:             id,
		Source:         source,
		Quality:        quality,
		MaxEdgePixels:  maxEdgePixels,
		MaxOutputBytes: maxOutputBytes,
	}
}

// Result describes a compressed image. It is owned by the caller once returned.
type Result struct {
	RequestID    int64
	Output       []byte
	Width        int
	Height       int
	OriginalSize int64
	OutputSize   int64
	WithinBudget bool
	Quality      float64
	SourceFormat string
	Orientation  int
	Resized      bool
}

// SavedPercent returns how much smaller the output is than the input, in percent.
func (r *Result) SavedPercent() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return float64(r.OriginalSize-r.OutputSize) * 100 / float64(r.OriginalSize)
}

// ProgressStage describes what the engine is currently doing.
type ProgressStage string

const (
	StageDecoding ProgressStage = "decoding"
	StageResizing ProgressStage = "resizing"
	StageEncoding ProgressStage = "encoding"
	StageDone     ProgressStage = "done"
)

// ProgressFunc is called as a request moves through the pipeline.
type ProgressFunc func(requestID int64, stage ProgressStage)

// Compressor defines the interface for single-request image compression.
type Compressor interface {
	// Compress runs decode, resize and encode for req. progress may be nil.
	Compress(ctx context.Context, req Request, progress ProgressFunc) (*Result, error)
}

// ErrorKind classifies a compression failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindDecode
	KindEncode
	KindCanceled
)

// String returns the short name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindEncode:
		return "encode"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// KindOf reports which ErrorKind err belongs to.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, codec.ErrDecode):
		return KindDecode
	case errors.Is(err, codec.ErrEncode):
		return KindEncode
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// QualityFromPercent normalizes a UI quality percentage to a quality factor.
func QualityFromPercent(percent int) (float64, error) {
	if percent < MinQualityPercent || percent > MaxQualityPercent {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidQuality, percent)
	}
	return float64(percent) / 100, nil
}

// FormatMiB renders a byte count as mebibytes with two decimals.
func FormatMiB(bytes int64) string {
	return fmt.Sprintf("%.2f", float64(bytes)/1024/1024)
}
