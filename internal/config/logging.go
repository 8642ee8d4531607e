package config

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging sets the global level and routes the global logger to w.
// A nil writer means human readable output on stderr.
func SetupLogging(level string, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log.Logger = log.Output(w)
}

func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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
