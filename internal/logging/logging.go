package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New creates a structured logger writing to stderr. The level string
// follows zerolog's names ("debug", "info", ...); anything unparseable
// falls back to info.
func New(levelStr string) zerolog.Logger {
	logger := zerolog.New(os.Stderr).With().
		Timestamp().
		Str("service", "docvault").
		Logger()

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
