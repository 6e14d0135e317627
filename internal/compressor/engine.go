package compressor

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"image-compressor-go/internal/codec"
	"image-compressor-go/internal/extractor"
	"image-compressor-go/internal/resizer"
)

// Engine is the default Compressor: decode, orient, resize, encode once.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	logger     *logrus.Logger
	metadata   extractor.MetadataExtractor
	autoOrient bool
}

// NewEngine creates an Engine. metadata may be nil, which disables EXIF
// orientation handling regardless of autoOrient.
func NewEngine(logger *logrus.Logger, metadata extractor.MetadataExtractor, autoOrient bool) *Engine {
	return &Engine{
		logger:     logger,
		metadata:   metadata,
		autoOrient: autoOrient && metadata != nil,
	}
}

// Compress performs a single best-effort pass. Exceeding MaxOutputBytes is
// reported through Result.WithinBudget, never as an error.
func (e *Engine) Compress(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	log := e.logger.WithField("request_id", req.ID)

	if err := reportProgress(ctx, progress, req.ID, StageDecoding); err != nil {
		return nil, err
	}
	img, format, err := codec.Decode(req.Source)
	if err != nil {
		return nil, fmt.Errorf("request %d: %w", req.ID, err)
	}

	orientation := extractor.OrientationNormal
	if e.autoOrient && (format == "jpeg" || format == "tiff") {
		orientation = e.metadata.ExtractOrientation(req.Source)
		img = codec.ApplyOrientation(img, int(orientation))
	}

	if err := reportProgress(ctx, progress, req.ID, StageResizing); err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, h := resizer.ComputeTargetDimensions(b.Dx(), b.Dy(), req.MaxEdgePixels)
	resized := w != b.Dx() || h != b.Dy()
	img = resizer.Resize(img, w, h)

	quality := codec.ClampQuality(req.Quality)
	if math.IsNaN(quality) {
		return nil, fmt.Errorf("request %d: %w: quality is not a number", req.ID, codec.ErrEncode)
	}

	if err := reportProgress(ctx, progress, req.ID, StageEncoding); err != nil {
		return nil, err
	}
	out, err := codec.Encode(img, codec.QualityToJPEG(quality))
	if err != nil {
		return nil, fmt.Errorf("request %d: %w", req.ID, err)
	}

	res := &Result{
		RequestID:    req.ID,
		Output:       out,
		Width:        w,
		Height:       h,
		OriginalSize: int64(len(req.Source)),
		OutputSize:   int64(len(out)),
		Quality:      quality,
		SourceFormat: format,
		Orientation:  int(orientation),
		Resized:      resized,
	}
	res.WithinBudget = res.OutputSize <= req.MaxOutputBytes

	log.WithFields(logrus.Fields{
		"format":        format,
		"width":         w,
		"height":        h,
		"original_size": res.OriginalSize,
		"output_size":   res.OutputSize,
		"within_budget": res.WithinBudget,
	}).Debug("Image compressed")

	if !res.WithinBudget {
		log.Debugf("Output %d bytes exceeds budget of %d bytes", res.OutputSize, req.MaxOutputBytes)
	}

	if progress != nil {
		progress(req.ID, StageDone)
	}
	return res, nil
}

// reportProgress checks for cancellation and then invokes the callback if set.
func reportProgress(ctx context.Context, progress ProgressFunc, id int64, stage ProgressStage) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("request %d: %w", id, err)
	}
	if progress != nil {
		progress(id, stage)
	}
	return nil
}
