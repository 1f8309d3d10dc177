// Package logging builds the zerolog loggers used by tdsweep binaries.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level and encoding of a logger
type Config struct {
	// Level is a zerolog level name, e.g. "debug", "info", "warn"
	Level string `koanf:"Level" yaml:"Level"`

	// JSON selects machine readable output instead of the console writer
	JSON bool `koanf:"JSON" yaml:"JSON"`
}

// New returns a logger writing to stderr
func New(c Config) zerolog.Logger {
	return NewWriter(os.Stderr, c)
}

// NewWriter returns a logger writing to w.  An unknown level falls back to info.
func NewWriter(w io.Writer, c Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		lvl = zerolog.InfoLevel
	}
	out := w
	if !c.JSON {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
