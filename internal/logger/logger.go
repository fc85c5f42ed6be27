// Package logger builds the root zerolog logger shared by the CLI and the
// long-running modes.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console logger at the given level. Unknown levels fall back
// to info rather than failing, so a typo in config never silences a run.
func New(level string, noColor bool) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}

	return zerolog.New(writer).Level(parsed).With().Timestamp().Logger()
}

// NewWriter returns a logger emitting to the given writer, used by tests and
// by trace capture.
func NewWriter(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Nop returns a disabled logger for components that accept one optionally.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
