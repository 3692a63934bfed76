package config

import (
	"io"
	"log/slog"
)

var logLevel = new(slog.LevelVar)

// Logger builds a logger for c writing to w. Every logger built here shares
// one level, so SetLogLevel changes them all.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	logLevel.Set(parseLevel(c.Level))

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if c.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// SetLogLevel changes the level of loggers built by LogConfig.Logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}
