package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/MrWong99/mentara/internal/config"
)

// logLevelVar backs the default logger so the daemon can change the level
// on config reload.
var logLevelVar = new(slog.LevelVar)

// setupLogger installs the default logger described by lc.
func setupLogger(lc config.LogConfig) {
	logLevelVar.Set(slogLevel(lc.Level))

	var handler slog.Handler
	switch lc.Format {
	case config.LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevelVar})
	case config.LogFormatText:
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevelVar})
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevelVar,
			TimeFormat: time.TimeOnly,
		})
	}
	slog.SetDefault(slog.New(handler))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
