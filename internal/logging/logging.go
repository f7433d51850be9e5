// Package logging wires structured zerolog output for kbtap, shared by
// every command in cmd/kbtap so CLI runs and a long-lived session process
// log the same way.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the logger's verbosity and destination, bound to flags
// and EngineConfig the same way the rest of the engine's config surfaces.
type Config struct {
	Level  string // trace, debug, info, warn, error; default info
	Pretty bool   // human-readable console output instead of JSON
	Output io.Writer
}

// New builds a Logger from cfg. An unparsable Level falls back to info
// rather than failing startup over a typo in a log-level flag.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var w io.Writer = out
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
