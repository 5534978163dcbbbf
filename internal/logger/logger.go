// Package logger provides the process-wide structured logger for Dropzone.
//
// It wraps log/slog with a small configuration surface (level, format,
// output destination) so the rest of the codebase logs through package-level
// functions without carrying a logger instance around.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // DEBUG, INFO, WARN, ERROR
	Format string `mapstructure:"format" yaml:"format"` // text, json
	Output string `mapstructure:"output" yaml:"output"` // stdout, stderr, or file path
}

// levelVar is shared by every handler ever built, so SetLevel takes effect
// without rebuilding the handler.
var levelVar = new(slog.LevelVar)

var (
	mu      sync.RWMutex
	format  = "text"
	sink    io.Writer = os.Stderr
	slogger           = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
)

// parseLevel maps a config string to a slog level. Unknown strings are
// rejected rather than defaulted so a typo in config is ignored, not
// silently downgraded.
func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// rebuild swaps the handler for the current format and sink. Callers hold mu.
func rebuild() {
	opts := &slog.HandlerOptions{Level: levelVar}
	if format == "json" {
		slogger = slog.New(slog.NewJSONHandler(sink, opts))
	} else {
		slogger = slog.New(slog.NewTextHandler(sink, opts))
	}
}

// Init configures the logger. Output can be "stdout", "stderr", or a file
// path (opened append-only).
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		sink = os.Stderr
	case "stdout":
		sink = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		sink = f
	}

	if cfg.Level != "" {
		if lv, ok := parseLevel(cfg.Level); ok {
			levelVar.Set(lv)
		}
	}
	if f := strings.ToLower(cfg.Format); f == "text" || f == "json" {
		format = f
	}
	rebuild()
	return nil
}

// InitWithWriter points the logger at a custom writer, primarily for tests.
func InitWithWriter(w io.Writer, level, logFormat string) {
	mu.Lock()
	defer mu.Unlock()

	sink = w
	if lv, ok := parseLevel(level); ok {
		levelVar.Set(lv)
	}
	if f := strings.ToLower(logFormat); f == "text" || f == "json" {
		format = f
	}
	rebuild()
}

// SetLevel sets the minimum log level. Invalid levels are ignored.
func SetLevel(level string) {
	if lv, ok := parseLevel(level); ok {
		levelVar.Set(lv)
	}
}

// SetFormat sets the output format (text or json). Invalid formats are
// ignored.
func SetFormat(logFormat string) {
	f := strings.ToLower(logFormat)
	if f != "text" && f != "json" {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	format = f
	rebuild()
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level with structured fields.
// Usage: Debug("message", "key1", value1, "key2", value2)
func Debug(msg string, args ...any) {
	get().Debug(msg, args...)
}

// Info logs at info level with structured fields.
func Info(msg string, args ...any) {
	get().Info(msg, args...)
}

// Warn logs at warn level with structured fields.
func Warn(msg string, args ...any) {
	get().Warn(msg, args...)
}

// Error logs at error level with structured fields.
func Error(msg string, args ...any) {
	get().Error(msg, args...)
}
