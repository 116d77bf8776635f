package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger is the logging interface the rest of the tree depends on. It
// wraps slog.Logger so handlers can be swapped and tests can capture
// output.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// Config selects handler, level and destination.
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // pretty, json, text
	Output io.Writer // nil means stderr
}

// SlogLogger adapts slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// New builds a Logger from cfg. Unknown formats fall back to the pretty
// handler, unknown levels to info.
func New(cfg Config) Logger {
	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	level := ParseLevel(cfg.Level)
	var h slog.Handler
	switch cfg.Format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "text":
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	default:
		h = NewPrettyHandler(w, &slog.HandlerOptions{Level: level})
	}
	return &SlogLogger{logger: slog.New(h)}
}

// Default returns an info-level pretty logger on stderr.
func Default() Logger {
	return New(Config{})
}

// FromContext retrieves the Logger carried by ctx, or Default when none
// was attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return Default()
}

// WithContext attaches l to the context.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

type loggerKey struct{}

func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

// ParseLevel converts a flag value to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
