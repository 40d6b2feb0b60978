// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init builds the root logger from the configured level and format and
// installs it as the global logger. Unknown levels fall back to info.
func Init(level, format string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if format == "console" {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		logger = zerolog.New(writer).Level(parsed).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger()
	}

	log.Logger = logger
	return logger
}
