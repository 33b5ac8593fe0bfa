package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging sets the global level and output. format "json" writes one
// JSON object per line; anything else is the human console format.
func SetupLogging(level, format string) {
	zerolog.SetGlobalLevel(parseLevel(level))
	log.Logger = zerolog.New(logWriter(format, os.Stderr)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func logWriter(format string, out io.Writer) io.Writer {
	if strings.EqualFold(format, "json") {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
}
