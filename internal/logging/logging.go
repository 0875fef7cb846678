// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var (debug/info/warn/error)
// - Context-based request ID propagation
// - A size-and-count bounded rotating file writer alongside stderr
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ContextKey is a type for context keys used in logging.
type ContextKey string

// RequestIDKey is the context key for request ID.
const RequestIDKey ContextKey = "log_request_id"

// WithRequestID adds a request ID to the context for logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(RequestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FromContext returns a logger with request_id from context added as an attribute.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		return logger.With("request_id", requestID)
	}
	return logger
}

// Options configures New.
type Options struct {
	// LogLevel is one of debug/info/warn/error.
	LogLevel string
	// LogPath is the path to the rotating log file. Empty disables file logging.
	LogPath string
	// MaxBytes is the rotation threshold for the log file (default 5 MiB).
	MaxBytes int64
	// BackupCount is the number of rotated files kept (default 5).
	BackupCount int
}

// New creates a configured logger writing to stderr and, if LogPath is set,
// to a rotating file. Format is text for a TTY, JSON otherwise, unless
// LOG_FORMAT overrides it.
func New(opts Options) (*slog.Logger, error) {
	level := parseLogLevel(opts.LogLevel)

	var writer io.Writer = os.Stderr
	if opts.LogPath != "" {
		rot, err := newRotatingWriter(opts.LogPath, opts.MaxBytes, opts.BackupCount)
		if err != nil {
			return nil, fmt.Errorf("open rotating log file: %w", err)
		}
		writer = io.MultiWriter(os.Stderr, rot)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	logFormat := os.Getenv("LOG_FORMAT")
	var handler slog.Handler
	if logFormat == "text" || (logFormat == "" && isatty(os.Stderr)) {
		handler = slog.NewTextHandler(writer, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	}

	return slog.New(handler), nil
}

// SetDefault creates a new logger and sets it as the default slog logger.
func SetDefault(opts Options) (*slog.Logger, error) {
	logger, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// rotatingWriter is a minimal size-and-count bounded rotating file writer,
// mirroring Python's RotatingFileHandler(maxBytes, backupCount) semantics:
// when the active file would exceed maxBytes, it is renamed .1, .2, ... up
// to backupCount, and a fresh file is opened.
type rotatingWriter struct {
	mu          sync.Mutex
	path        string
	maxBytes    int64
	backupCount int
	size        int64
	file        *os.File
}

func newRotatingWriter(path string, maxBytes int64, backupCount int) (*rotatingWriter, error) {
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	if backupCount <= 0 {
		backupCount = 5
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &rotatingWriter{
		path:        path,
		maxBytes:    maxBytes,
		backupCount: backupCount,
		size:        info.Size(),
		file:        f,
	}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	for i := w.backupCount - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", w.path, i)
		dst := fmt.Sprintf("%s.%d", w.path, i+1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
		}
	}
	if _, err := os.Stat(w.path); err == nil {
		_ = os.Rename(w.path, w.path+".1")
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.size = 0
	return nil
}
