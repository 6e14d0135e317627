package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig defines the configuration for the logger.
type LoggerConfig struct {
	Level      string // "debug", "info", "warn" or "error"
	FilePath   string // rotated log file, empty for console only
	MaxSize    int    // megabytes before rotation
	MaxBackups int    // rotated files to keep
	MaxAge     int    // days to keep rotated files
	Compress   bool   // gzip rotated files
	Console    bool   // also write to stdout
}

// jsonFormatter renames the logrus keys to the ones log shippers expect.
var jsonFormatter = &logrus.JSONFormatter{
	TimestampFormat: "2006-01-02 15:04:05",
	FieldMap: logrus.FieldMap{
		logrus.FieldKeyTime:  "timestamp",
		logrus.FieldKeyLevel: "level",
		logrus.FieldKeyMsg:   "message",
		logrus.FieldKeyFunc:  "function",
	},
}

// NewLogger returns a JSON logrus.Logger writing to a rotated file, stdout, or both.
func NewLogger(config LoggerConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	out, err := outputFor(config)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetFormatter(jsonFormatter)
	log.SetOutput(out)
	return log, nil
}

func outputFor(config LoggerConfig) (io.Writer, error) {
	if config.FilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
		return nil, err
	}

	file := &lumberjack.Logger{
		Filename:   config.FilePath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	if !config.Console {
		return file, nil
	}
	return io.MultiWriter(file, os.Stdout), nil
}

// WithSession scopes an entry to one interactive session.
func WithSession(logger *logrus.Logger, sessionID string) *logrus.Entry {
	return logger.WithField("session", sessionID)
}

// WithRequest returns a logger entry scoped to one compression request of a stream.
func WithRequest(logger *logrus.Logger, stream string, requestID int64) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"stream":     stream,
		"request_id": requestID,
	})
}

// WithOperation returns a logger entry with the specified operation context.
func WithOperation(logger *logrus.Logger, operation string) *logrus.Entry {
	return logger.WithField("operation", operation)
}

// WithFileOperation returns a logger entry with both file and operation context.
func WithFileOperation(logger *logrus.Logger, filePath, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"file":      filePath,
		"operation": operation,
	})
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
