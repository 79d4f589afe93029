package util

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds the process root logger at the requested level, falling
// back to info when the level string is unknown or empty.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}

// ComponentLogger derives a child logger tagged with the pipeline stage name.
func ComponentLogger(root zerolog.Logger, component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}
