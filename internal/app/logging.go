// internal/app/logging.go
package app

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the process logger. The daemon logs JSON, the CLI text.
func NewLogger(w io.Writer, json bool, level string) (*slog.Logger, *slog.LevelVar) {
	logLevel := new(slog.LevelVar)
	SetLogLevel(level, logLevel)
	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if json {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler), logLevel
}

// SetLogLevel maps a LOG_LEVEL value onto v. Unknown values mean info.
func SetLogLevel(level string, v *slog.LevelVar) {
	switch strings.ToLower(level) {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
