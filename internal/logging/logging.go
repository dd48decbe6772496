// Package logging configures the process-wide slog logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Setup installs the default slog logger. format is "json", "pretty", or
// "auto" (pretty when stderr is a terminal, json otherwise). level is one of
// debug, info, warn, error; anything else means info.
func Setup(format, level string) {
	lvl := parseLevel(level)

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "pretty":
		handler = prettyHandler(lvl)
	case "json":
		handler = jsonHandler(lvl)
	default:
		if term.IsTerminal(int(os.Stderr.Fd())) {
			handler = prettyHandler(lvl)
		} else {
			handler = jsonHandler(lvl)
		}
	}

	slog.SetDefault(slog.New(handler))
}

func jsonHandler(lvl slog.Level) slog.Handler {
	return slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
}

func prettyHandler(lvl slog.Level) slog.Handler {
	return tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
