package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	SupportedExtensions []string          `mapstructure:"supported_extensions" validate:"min=1"`
	Compression         CompressionConfig `mapstructure:"compression"`
	Server              ServerConfig      `mapstructure:"server"`
	Performance         PerformanceConfig `mapstructure:"performance"`
	Logging             LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains the pipeline limits applied to every request
type CompressionConfig struct {
	MaxEdgePixels    int     `mapstructure:"max_edge_pixels" validate:"gte=1"`
	MaxOutputBytes   int64   `mapstructure:"max_output_bytes" validate:"gte=1"`
	InitialQuality   float64 `mapstructure:"initial_quality" validate:"gte=0.1,lte=1"`
	AutoOrient       bool    `mapstructure:"auto_orient"`
	DownloadFilename string  `mapstructure:"download_filename"`
}

// ServerConfig contains web transport settings
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gte=1"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	WorkerThreads int `mapstructure:"worker_threads" validate:"gte=0"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

const (
	// DefaultMaxEdgePixels is the longest output edge.
	DefaultMaxEdgePixels = 1024
	// DefaultMaxOutputBytes is the 1 MiB output budget.
	DefaultMaxOutputBytes = 1 << 20
	// DefaultInitialQuality is the quality a new session starts at.
	DefaultInitialQuality = 0.8
	// DefaultDownloadFilename is what a saved result is called.
	DefaultDownloadFilename = "compressed_image.jpg"
)

var validate = validator.New()

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		SupportedExtensions: []string{
			".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp",
		},
		Compression: CompressionConfig{
			MaxEdgePixels:    DefaultMaxEdgePixels,
			MaxOutputBytes:   DefaultMaxOutputBytes,
			InitialQuality:   DefaultInitialQuality,
			AutoOrient:       true,
			DownloadFilename: DefaultDownloadFilename,
		},
		Server: ServerConfig{
			Port:            8080,
			MaxUploadBytes:  50 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Performance: PerformanceConfig{
			WorkerThreads: 0, // 0 means NumCPU
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "image-compressor.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-compressor")
		v.AddConfigPath("/etc/image-compressor")
	}

	// Enable environment variable support
	v.SetEnvPrefix("IMAGE_COMPRESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnvKeys makes nested keys visible to AutomaticEnv even without a config file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"compression.max_edge_pixels",
		"compression.max_output_bytes",
		"compression.initial_quality",
		"compression.auto_orient",
		"compression.download_filename",
		"server.port",
		"server.max_upload_bytes",
		"server.shutdown_timeout",
		"performance.worker_threads",
		"logging.level",
		"logging.file_path",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate validates the configuration and normalizes optional fields
func (c *Config) Validate() error {
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Compression.DownloadFilename == "" {
		c.Compression.DownloadFilename = DefaultDownloadFilename
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if err := validate.Struct(c); err != nil {
		return err
	}

	c.SupportedExtensions = normalizeExtensions(c.SupportedExtensions)
	return nil
}

// IsImageExtension checks if the extension is a supported source format
func (c *Config) IsImageExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
