// Package wlog wraps zerolog for the server's stderr-only diagnostics.
package wlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the process-wide diagnostics logger. Every component takes
// this as a dependency rather than reaching for the global log package
// directly, so tests can substitute a discard logger.
var Logger zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().
		Timestamp().
		Logger()
	log.Logger = Logger
}

// Discard returns a logger that drops everything, for tests that don't
// want stderr noise.
func Discard() zerolog.Logger {
	return zerolog.Nop()
}

// WithConn returns a child logger tagged with a per-connection trace id,
// so interleaved stderr output from concurrent connections can be told
// apart.
func WithConn(traceID string) zerolog.Logger {
	return Logger.With().Str("conn", traceID).Logger()
}
