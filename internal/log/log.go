// Package log provides the global structured logger for minion.
// Warnings and errors always go to stderr; debug and info output is
// enabled with --verbose. A debug file handler can be added so a full
// record of a run survives even when stderr output is quiet.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var logger *slog.Logger
var debugFile *os.File

// Options configures the logger.
type Options struct {
	// Verbose enables debug/info output on stderr.
	Verbose bool
	// JSONFormat switches stderr output to JSON.
	JSONFormat bool
	// DebugDir, if non-empty, is a directory receiving a per-process
	// JSON debug log at all levels.
	DebugDir string
	// Stderr overrides the stderr writer (for testing).
	Stderr io.Writer
}

// Init initializes the global logger.
func Init(opts Options) error {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if opts.JSONFormat {
		handlers = append(handlers, slog.NewJSONHandler(stderr, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(stderr, handlerOpts))
	}

	if opts.DebugDir != "" {
		if err := os.MkdirAll(opts.DebugDir, 0700); err != nil {
			return err
		}
		name := time.Now().UTC().Format("20060102-150405") + ".jsonl"
		f, err := os.OpenFile(filepath.Join(opts.DebugDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return err
		}
		debugFile = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	logger = slog.New(&multiHandler{handlers: handlers})
	slog.SetDefault(logger)
	return nil
}

// Close closes the debug file if one was opened.
func Close() {
	if debugFile != nil {
		debugFile.Close()
		debugFile = nil
	}
}

// multiHandler fans out log records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}

// With returns a logger with additional context.
func With(args ...any) *slog.Logger {
	return logger.With(args...)
}

// SetRunID attaches a run_id attribute to all subsequent log messages.
func SetRunID(runID string) {
	logger = slog.New(logger.Handler().WithAttrs([]slog.Attr{
		slog.String("run_id", runID),
	}))
	slog.SetDefault(logger)
}

func init() {
	logger = slog.Default()
}
