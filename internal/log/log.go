// Package log is the process-wide structured logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var logger *slog.Logger

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Init sets up logging with the given level and optional file writer.
func Init(level string, fileWriter io.Writer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var w io.Writer = os.Stderr
	if fileWriter != nil {
		w = io.MultiWriter(os.Stderr, fileWriter)
	}
	logger = slog.New(slog.NewTextHandler(w, opts))
}

// SetOutput replaces the logger with one writing only to w. Used by tests.
func SetOutput(w io.Writer, level string) {
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns the current logger.
func Logger() *slog.Logger { return logger }

func Debug(msg string, args ...any) { logger.Debug(msg, args...) }
func Info(msg string, args ...any)  { logger.Info(msg, args...) }
func Warn(msg string, args ...any)  { logger.Warn(msg, args...) }
func Error(msg string, args ...any) { logger.Error(msg, args...) }
