package file

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// FileLogger implements LoggerInstance writing JSON lines to a file.
type FileLogger struct {
	logger *log.Logger
	closer io.Closer
}

// FileLoggerParams contains configuration for creating a FileLogger.
type FileLoggerParams struct {
	Path  string
	Debug bool
}

// NewFileLogger opens (or creates) the file at Path in append mode.
func NewFileLogger(params FileLoggerParams) (*FileLogger, error) {
	if dir := filepath.Dir(params.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(params.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return newFileLogger(f, f, params.Debug), nil
}

func newFileLogger(w io.Writer, closer io.Closer, debug bool) *FileLogger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Formatter:       log.JSONFormatter,
	})
	return &FileLogger{
		logger: logger,
		closer: closer,
	}
}

// Close closes the underlying file.
func (f *FileLogger) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Log writes a message at the default level.
func (f *FileLogger) Log(message string, keyvals ...any) {
	f.logger.Print(message, keyvals...)
}

// Info writes a message at INFO level.
func (f *FileLogger) Info(message string, keyvals ...any) {
	f.logger.Info(message, keyvals...)
}

// Warn writes a message at WARN level.
func (f *FileLogger) Warn(message string, keyvals ...any) {
	f.logger.Warn(message, keyvals...)
}

// Error writes a message at ERROR level.
func (f *FileLogger) Error(message string, keyvals ...any) {
	f.logger.Error(message, keyvals...)
}

// Debug writes a message at DEBUG level.
func (f *FileLogger) Debug(message string, keyvals ...any) {
	f.logger.Debug(message, keyvals...)
}

// Fatal writes a message at FATAL level and terminates the program.
func (f *FileLogger) Fatal(message string, keyvals ...any) {
	f.logger.Fatal(message, keyvals...)
}
