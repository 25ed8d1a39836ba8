package logging

import (
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/jamesprial/storegate/internal/interfaces"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions controls the optional rotated JSON log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SlogLogger implements interfaces.Logger using Go's standard slog package.
type SlogLogger struct {
	logger *slog.Logger
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogLogger creates a new logger with the specified level.
func NewSlogLogger(levelStr string) interfaces.Logger {
	return NewWriterLogger(os.Stdout, levelStr)
}

// NewWriterLogger creates a text logger that writes to w.
func NewWriterLogger(w io.Writer, levelStr string) interfaces.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(levelStr),
	})

	return &SlogLogger{
		logger: slog.New(handler),
	}
}

// NewFileLogger logs text to stdout and JSON to a lumberjack-rotated file.
// The returned closer releases the file.
func NewFileLogger(levelStr string, opts FileOptions) (interfaces.Logger, io.Closer) {
	level := ParseLevel(levelStr)

	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}

	handler := &teeHandler{
		handlers: []slog.Handler{
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
			slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level}),
		},
	}

	return &SlogLogger{logger: slog.New(handler)}, rotator
}

// Debug logs debug messages.
func (s *SlogLogger) Debug(msg string, fields map[string]any) {
	s.logger.Debug(msg, fieldsToArgs(fields)...)
}

// Info logs info messages.
func (s *SlogLogger) Info(msg string, fields map[string]any) {
	s.logger.Info(msg, fieldsToArgs(fields)...)
}

// Warn logs warning messages.
func (s *SlogLogger) Warn(msg string, fields map[string]any) {
	s.logger.Warn(msg, fieldsToArgs(fields)...)
}

// Error logs error messages.
func (s *SlogLogger) Error(msg string, fields map[string]any) {
	s.logger.Error(msg, fieldsToArgs(fields)...)
}

// fieldsToArgs converts a map of fields to slog attributes in key order.
func fieldsToArgs(fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(fields))
	for _, k := range keys {
		args = append(args, slog.Any(k, fields[k]))
	}
	return args
}

// NoOpLogger implements interfaces.Logger but does nothing (useful for testing).
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that discards all messages.
func NewNoOpLogger() interfaces.Logger {
	return &NoOpLogger{}
}

// Debug does nothing.
func (n *NoOpLogger) Debug(msg string, fields map[string]any) {}

// Info does nothing.
func (n *NoOpLogger) Info(msg string, fields map[string]any) {}

// Warn does nothing.
func (n *NoOpLogger) Warn(msg string, fields map[string]any) {}

// Error does nothing.
func (n *NoOpLogger) Error(msg string, fields map[string]any) {}
