package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"image-compressor-go/internal/codec"
	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/extractor"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/resizer"
	"image-compressor-go/internal/session"
	"image-compressor-go/internal/statistics"
	"image-compressor-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	version   = "dev"
	buildTime string

	quality  int
	outDir   string
	maxEdge  int
	maxBytes int64
	workers  int
	port     int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-compressor",
	Short: "Shrink images to web-friendly JPEGs",
	Long: `image-compressor re-encodes images as JPEG after bounding the longer
edge (1024 px by default), and reports the size before and after.

Features:
- Decodes JPEG, PNG, GIF, BMP, TIFF and WebP
- Honours EXIF orientation of camera photos
- Single-pass quality encode with a best-effort size budget
- Batch mode for files and directories
- Web interface with a live quality slider`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// compressCmd compresses files and directories on disk.
var compressCmd = &cobra.Command{
	Use:   "compress <path>...",
	Short: "Compress image files or directories",
	Long: `Compress every supported image found in the given files and directories.
Each output is written as <name>_compressed.jpg into the output directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd.Context(), args)
	},
}

// inspectCmd shows what the pipeline would do with a file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show format, dimensions and EXIF details of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts an HTTP server exposing compression sessions.
Clients upload an image, move the quality slider over the /ws socket and
download the result as compressed_image.jpg.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	compressCmd.Flags().IntVarP(&quality, "quality", "q", 0, "JPEG quality in percent, 10-100 (default from config, 80)")
	compressCmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	compressCmd.Flags().IntVar(&maxEdge, "max-edge", 0, "longest output edge in pixels (default from config, 1024)")
	compressCmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "output size budget in bytes (default from config, 1 MiB)")
	compressCmd.Flags().IntVar(&workers, "workers", 0, "number of parallel workers (default from config, NumCPU)")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config, 8080)")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

// runCompress executes batch compression.
func runCompress(ctx context.Context, paths []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	q := cfg.Compression.InitialQuality
	if quality != 0 {
		if q, err = compressor.QualityFromPercent(quality); err != nil {
			return err
		}
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	engine := compressor.NewEngine(log, extractor.NewEXIFExtractor(log), cfg.Compression.AutoOrient)
	batch := compressor.NewBatchCompressor(engine, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := compressor.BatchParams{
		InputPaths:     paths,
		TargetDir:      outDir,
		Quality:        q,
		MaxEdgePixels:  firstPositive(maxEdge, cfg.Compression.MaxEdgePixels),
		MaxOutputBytes: firstPositive64(maxBytes, cfg.Compression.MaxOutputBytes),
		Formats:        cfg.SupportedExtensions,
		Workers:        firstPositive(workers, cfg.Performance.WorkerThreads),
	}

	opLog := logger.WithOperation(log, "compress")
	opLog.WithFields(logrus.Fields{
		"paths":   len(paths),
		"quality": q,
		"workers": params.Workers,
	}).Info("Batch compression started")

	results, err := batch.CompressFiles(ctx, params)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}
	if len(results) == 0 {
		return errors.New("no supported image files found")
	}

	failed := 0
	for i, r := range results {
		stats.IncrementSubmitted()
		if !r.Success {
			failed++
			stats.RecordFailure(int64(i+1), compressor.KindOf(r.Error).String(), r.Message)
			continue
		}
		stats.RecordResult(r.OriginalSize, r.CompressedSize, r.WithinBudget)
		if !quiet {
			fmt.Printf("%s -> %s  %s MiB -> %s MiB (%.1f%% saved)\n",
				r.InputPath, r.OutputPath,
				compressor.FormatMiB(r.OriginalSize), compressor.FormatMiB(r.CompressedSize),
				r.PercentageSaved())
		}
	}
	stats.Finalize()
	opLog.WithFields(logrus.Fields{"files": len(results), "failed": failed}).Info("Batch compression finished")

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if failed > 0 {
			fmt.Println(stats.GetErrorSummary())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

// runInspect prints metadata for a single file.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	imgCfg, format, err := codec.DecodeConfig(data)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	metadata := extractor.NewEXIFExtractor(log)
	orientation := metadata.ExtractOrientation(data)

	w, h := imgCfg.Width, imgCfg.Height
	if orientation.SwapsAxes() {
		w, h = h, w
	}
	tw, th := resizer.ComputeTargetDimensions(w, h, cfg.Compression.MaxEdgePixels)

	fmt.Printf("File:        %s\n", filePath)
	fmt.Printf("Format:      %s\n", format)
	fmt.Printf("Size:        %s (%s MiB)\n", statistics.FormatBytes(int64(len(data))), compressor.FormatMiB(int64(len(data))))
	fmt.Printf("Dimensions:  %dx%d\n", imgCfg.Width, imgCfg.Height)
	fmt.Printf("Orientation: %s\n", orientation)
	fmt.Printf("Output:      %dx%d\n", tw, th)

	date, err := metadata.ExtractDate(data)
	switch {
	case err != nil:
		fmt.Printf("Taken:       unknown (%v)\n", err)
	case date == nil:
		fmt.Println("Taken:       unknown")
	default:
		fmt.Printf("Taken:       %s\n", date.Format("2006-01-02 15:04:05"))
	}

	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	opLog := logger.WithOperation(log, "serve")
	engine := compressor.NewEngine(log, extractor.NewEXIFExtractor(log), cfg.Compression.AutoOrient)
	manager := session.NewManager(cfg.Compression, engine, log, statistics.NewStatistics())
	server := web.NewServer(cfg, log, manager)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if !quiet {
		fmt.Printf("Image compressor listening on http://localhost:%d\n", cfg.Server.Port)
		fmt.Printf("Press Ctrl+C to stop the server\n\n")
	}

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
	}
	opLog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	opLog.Info("Server stopped gracefully")
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func firstPositive(flag, fallback int) int {
	if flag > 0 {
		return flag
	}
	return fallback
}

func firstPositive64(flag, fallback int64) int64 {
	if flag > 0 {
		return flag
	}
	return fallback
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if buildTime != "" {
		rootCmd.SetVersionTemplate(fmt.Sprintf("image-compressor %s (built %s)\n", version, buildTime))
	}
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
