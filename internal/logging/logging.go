package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/rs/zerolog"
)

// Options configures the application logger.
type Options struct {
	Level       string // "debug", "info", "warn" or "error"
	File        string // empty uses LogPath()
	MaxLogFiles int
	Console     bool // also write to stderr
}

// Backend is the application logger together with the writers behind it.
type Backend struct {
	zerolog.Logger

	// Lines holds the most recent formatted log lines for display.
	Lines *LinesBuffer

	rotator *rotator.Rotator
}

// New creates a new zerolog logger with console output
func New() zerolog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel creates a console logger filtered at level.
func NewWithLevel(level string) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(ParseLevel(level)).
		With().Timestamp().Logger()
}

// ParseLevel parses level, falling back to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}

// Setup creates the application logger. It writes JSON to a rotating log
// file, human readable lines to an in-memory buffer, and optionally to the
// console.
func Setup(opts Options) (*Backend, error) {
	path := opts.File
	if path == "" {
		path = LogPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(path, 1024, false, opts.MaxLogFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to create file rotator: %w", err)
	}

	lines := new(LinesBuffer)
	writers := []io.Writer{
		r,
		zerolog.ConsoleWriter{Out: lines, NoColor: true, TimeFormat: "15:04:05"},
	}
	if opts.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()

	return &Backend{Logger: logger, Lines: lines, rotator: r}, nil
}

// Close flushes and closes the log file.
func (b *Backend) Close() error {
	return b.rotator.Close()
}

// LogPath returns platform-specific log file path
func LogPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "audio-looper", "audio-looper.log")
}
