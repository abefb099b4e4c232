// Package logging builds the process logger and tees its records into the
// persisted log feed shown on the dashboard.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/invoice-relay/store"
)

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// OpenFile opens path for appending, creating its directory.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}

// DefaultFile is logs/invoice-relay.log next to the executable.
func DefaultFile() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exePath), "logs", "invoice-relay.log"), nil
}

// Options configures New.
type Options struct {
	Level slog.Level
	// Output defaults to os.Stdout. Extra writers are appended with
	// io.MultiWriter.
	Output io.Writer
	Extra  []io.Writer
	// Sink receives every record at INFO or above when set.
	Sink Appender
	// OnEntry is called with each persisted entry.
	OnEntry func(store.LogEntry)
}

// New returns the process logger.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if len(opts.Extra) > 0 {
		out = io.MultiWriter(append([]io.Writer{out}, opts.Extra...)...)
	}

	var h slog.Handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: opts.Level})
	if opts.Sink != nil {
		h = NewSinkHandler(h, opts.Sink, opts.OnEntry)
	}
	return slog.New(h)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
