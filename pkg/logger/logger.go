// Package logger builds the base zerolog.Logger every component in this
// repository derives its own sub-logger from via
// log.With().Str("component", "...").Logger(). Grounded on
// trader/pkg/logger's Config/New/SetGlobalLogger contract (only its
// logger_test.go survived retrieval; this file reconstructs the
// implementation the test documents: RFC3339 timestamps, caller info,
// a global level set from Config.Level, and an optional pretty
// console writer for local/dev runs).
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the base logger's verbosity and output format.
type Config struct {
	// Level is one of debug/info/warn/error; anything else defaults to info.
	Level string
	// Pretty enables a human-readable ConsoleWriter instead of JSON lines.
	Pretty bool
}

// New builds a base logger from cfg and sets it as zerolog's global level,
// exactly as trader/pkg/logger.New does.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output = os.Stdout
	log := zerolog.New(output).With().Timestamp().Caller().Logger()

	if cfg.Pretty {
		log = log.Output(zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"})
	}

	return log
}

// SetGlobalLogger installs log as zerolog.DefaultContextLogger, the logger
// zerolog.Ctx returns for a context that carries none. It does not replace
// the zerolog/log package's global Logger.
func SetGlobalLogger(log zerolog.Logger) {
	zerolog.DefaultContextLogger = &log
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
