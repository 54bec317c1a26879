// Package logger builds the process-wide zerolog logger. Every component
// derives child loggers from the one constructed here, so level and output
// format are decided exactly once, at startup.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls level and output format
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // human-readable console output for development
}

// New constructs the root logger. Unknown level strings fall back to info
// rather than failing startup.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Pretty {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// SetGlobalLogger routes the zerolog package-level logger through the
// configured root, so stray log.Info() calls share the same sink.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
