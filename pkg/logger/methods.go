package logger

import (
	"context"
	"fmt"
	"log/slog"
)

// Info logs a message at info level.
func (l *Logger) Info(args ...any) {
	l.Logger.Log(context.Background(), slog.LevelInfo, fmt.Sprint(args...))
}

// Infow logs a structured message at info level.
func (l *Logger) Infow(msg string, keysAndValues ...any) {
	l.Logger.Log(context.Background(), slog.LevelInfo, msg, keysAndValues...)
}

// Debug logs a message at debug level.
func (l *Logger) Debug(args ...any) {
	l.Logger.Log(context.Background(), slog.LevelDebug, fmt.Sprint(args...))
}

// Debugw logs a structured message at debug level.
func (l *Logger) Debugw(msg string, keysAndValues ...any) {
	l.Logger.Log(context.Background(), slog.LevelDebug, msg, keysAndValues...)
}

// Warn logs a message at warn level.
func (l *Logger) Warn(args ...any) {
	l.Logger.Log(context.Background(), slog.LevelWarn, fmt.Sprint(args...))
}

// Warnw logs a structured message at warn level.
func (l *Logger) Warnw(msg string, keysAndValues ...any) {
	l.Logger.Log(context.Background(), slog.LevelWarn, msg, keysAndValues...)
}

// Error logs a message at error level.
func (l *Logger) Error(args ...any) {
	l.Logger.Log(context.Background(), slog.LevelError, fmt.Sprint(args...))
}

// Errorw logs a structured message at error level.
func (l *Logger) Errorw(msg string, keysAndValues ...any) {
	l.Logger.Log(context.Background(), slog.LevelError, msg, keysAndValues...)
}
