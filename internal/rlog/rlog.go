// Package rlog builds the process-wide zerolog logger, console-formatted
// for a terminal and JSON otherwise, the way the rest of the retrieval
// pack's CLIs set theirs up.
package rlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger at the given level. pretty selects the
// human-readable console writer; otherwise output is newline-delimited
// JSON suitable for log aggregation.
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}
