// Package logging builds the charmbracelet/log loggers used across the client.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// Options holds configuration for a logger.
type Options struct {
	Level           log.Level
	Formatter       log.Formatter
	ReportTimestamp bool
	Prefix          string
}

// DefaultOptions returns the options used by one-shot CLI commands.
func DefaultOptions() Options {
	return Options{
		Level:     log.WarnLevel,
		Formatter: log.TextFormatter,
		Prefix:    "muchtodo",
	}
}

// New creates a logger writing to w.
func New(w io.Writer, opts Options) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:           opts.Level,
		Formatter:       opts.Formatter,
		ReportTimestamp: opts.ReportTimestamp,
		Prefix:          opts.Prefix,
	})
}

// NewFromConfig builds a logger from string settings as found in config.toml or the environment.
func NewFromConfig(w io.Writer, level, format string) *log.Logger {
	opts := DefaultOptions()
	opts.Level = ParseLevel(level)
	opts.Formatter = ParseFormatter(format)
	return New(w, opts)
}

// OpenFile opens (appending) the log file used while the TUI owns the terminal.
// The caller closes the returned file.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Discard returns a logger that drops everything. Handy for tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// ParseLevel parses a string log level. Unknown values fall back to warn.
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.WarnLevel
	}
}

// ParseFormatter parses a formatter name.
func ParseFormatter(format string) log.Formatter {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}
