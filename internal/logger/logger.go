package logger

import (
	"io"
	"log/slog"
	"os"

	"arcane-scribe/internal/config"
)

var Logger *slog.Logger

// InitLogger initializes structured logging based on configuration
func InitLogger(cfg *config.Config) {
	Logger = New(os.Stdout, cfg.GinMode == "debug")
	slog.SetDefault(Logger)
	Logger.Debug("Structured logging initialized", "gin_mode", cfg.GinMode)
}

// New builds a JSON logger; debug adds debug level and source locations.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	}))
}

// Component returns the process logger tagged with a component name.
func Component(name string) *slog.Logger {
	if Logger == nil {
		return slog.Default().With("component", name)
	}
	return Logger.With("component", name)
}

func Info(msg string, args ...any) {
	if Logger != nil {
		Logger.Info(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if Logger != nil {
		Logger.Error(msg, args...)
	}
}

func Debug(msg string, args ...any) {
	if Logger != nil {
		Logger.Debug(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if Logger != nil {
		Logger.Warn(msg, args...)
	}
}
