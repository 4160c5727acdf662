package app

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// newLogger builds the process-wide structured logger, writing
// human-readable console output to stderr so stdout stays free for the
// REPL's own rendering.
func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
