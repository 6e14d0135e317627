package compressor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"image-compressor-go/internal/download"
	"image-compressor-go/internal/logger"
)

// BatchParams defines parameters for compressing files from disk.
type BatchParams struct {
	InputPaths     []string
	TargetDir      string
	Quality        float64
	MaxEdgePixels  int
	MaxOutputBytes int64
	Formats        []string
	Workers        int
}

// FileResult describes the result of compressing a single file.
type FileResult struct {
	InputPath      string
	OutputPath     string
	OriginalSize   int64
	CompressedSize int64
	Width          int
	Height         int
	WithinBudget   bool
	Message        string
	Success        bool
	StartedAt      time.Time
	FinishedAt     time.Time
	Error          error
}

// PercentageSaved returns the size reduction in percent.
func (r FileResult) PercentageSaved() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return float64(r.OriginalSize-r.CompressedSize) * 100 / float64(r.OriginalSize)
}

// BatchCompressor runs a Compressor over many files with a fixed worker pool.
type BatchCompressor struct {
	compressor Compressor
	logger     *logrus.Logger
}

// NewBatchCompressor creates a new BatchCompressor.
func NewBatchCompressor(c Compressor, log *logrus.Logger) *BatchCompressor {
	return &BatchCompressor{compressor: c, logger: log}
}

// CompressFiles compresses every supported file under params.InputPaths and
// writes each output into params.TargetDir. Per-file failures are reported
// in the returned slice; the error is only set for setup problems.
func (b *BatchCompressor) CompressFiles(ctx context.Context, params BatchParams) ([]FileResult, error) {
	files, err := collectImageFiles(params.InputPaths, params.Formats)
	if err != nil {
		return nil, fmt.Errorf("collect files: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	if params.TargetDir == "" {
		params.TargetDir = "."
	}
	if err := os.MkdirAll(params.TargetDir, 0755); err != nil {
		return nil, fmt.Errorf("create target dir: %w", err)
	}

	names := outputNames(files)

	numWorkers := params.Workers
	if numWorkers <= 0 {
		numWorkers = max(runtime.NumCPU(), 2)
	}
	numWorkers = min(numWorkers, len(files))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(files))
	resArr := make([]FileResult, len(files))

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					resArr[j.index] = FileResult{InputPath: j.path, Error: err, Message: "canceled"}
					continue
				}
				resArr[j.index] = b.compressOne(ctx, int64(j.index+1), j.path, names[j.index], params)
			}
		}()
	}

	for i, path := range files {
		jobs <- job{index: i, path: path}
	}
	close(jobs)
	wg.Wait()

	return resArr, nil
}

// compressOne compresses a single file and returns a FileResult.
func (b *BatchCompressor) compressOne(ctx context.Context, id int64, inputPath, outName string, params BatchParams) FileResult {
	res := FileResult{
		InputPath: inputPath,
		StartedAt: time.Now(),
	}
	log := logger.WithFileOperation(b.logger, inputPath, "compress")

	fail := func(msg string, err error) FileResult {
		res.Message = fmt.Sprintf("%s: %v", msg, err)
		res.Error = err
		res.FinishedAt = time.Now()
		log.Warn(res.Message)
		return res
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fail("read error", err)
	}
	res.OriginalSize = int64(len(data))

	req := NewRequest(id, data, params.Quality, params.MaxEdgePixels, params.MaxOutputBytes)
	out, err := b.compressor.Compress(ctx, req, nil)
	if err != nil {
		return fail(KindOf(err).String()+" error", err)
	}

	outPath, err := download.Save(params.TargetDir, outName, out.Output)
	if err != nil {
		return fail("save error", err)
	}

	res.OutputPath = outPath
	res.CompressedSize = out.OutputSize
	res.Width = out.Width
	res.Height = out.Height
	res.WithinBudget = out.WithinBudget
	res.Success = true
	res.Message = "Image compressed"
	if !out.WithinBudget {
		res.Message = "Image compressed, output exceeds size budget"
	}
	res.FinishedAt = time.Now()

	log.WithFields(logrus.Fields{
		"output":        outPath,
		"original_size": res.OriginalSize,
		"output_size":   res.CompressedSize,
	}).Info(res.Message)
	return res
}

// collectImageFiles recursively collects all files with supported extensions.
func collectImageFiles(inputPaths []string, formats []string) ([]string, error) {
	var files []string
	extSet := make(map[string]struct{})
	for _, f := range formats {
		f = strings.ToLower(f)
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		extSet[f] = struct{}{}
	}
	visit := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := extSet[ext]; ok {
			files = append(files, path)
		}
		return nil
	}
	for _, in := range inputPaths {
		info, err := os.Stat(in)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			_ = filepath.WalkDir(in, visit)
		} else {
			ext := strings.ToLower(filepath.Ext(info.Name()))
			if _, ok := extSet[ext]; ok {
				files = append(files, in)
			}
		}
	}
	return files, nil
}

// outputNames assigns each input a distinct output file name.
func outputNames(files []string) []string {
	names := make([]string, len(files))
	seen := make(map[string]int)
	for i, f := range files {
		name := download.CompressedName(f)
		if n := seen[name]; n > 0 {
			stem := strings.TrimSuffix(name, ".jpg")
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d.jpg", stem, n)
		} else {
			seen[name] = 1
		}
		names[i] = name
	}
	return names
}
