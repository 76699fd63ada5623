package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the structured logger used across mvlease components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	DebugCtx(ctx context.Context, msg string, args ...any)
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}

type slogLogger struct {
	logger *slog.Logger
	prefix string
}

// New returns a text logger writing to w at the given level.
func New(level slog.Level, w io.Writer) Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &slogLogger{logger: slog.New(handler), prefix: "[mvlease] "}
}

// NewDefault writes to stderr.
func NewDefault(level slog.Level) Logger {
	return New(level, os.Stderr)
}

// Nop discards everything.
func Nop() Logger {
	return New(slog.LevelError+1, io.Discard)
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...), prefix: l.prefix}
}

func (l *slogLogger) Debug(msg string, args ...any) {
	l.logger.Debug(l.prefix+msg, args...)
}

func (l *slogLogger) Info(msg string, args ...any) {
	l.logger.Info(l.prefix+msg, args...)
}

func (l *slogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(l.prefix+msg, args...)
}

func (l *slogLogger) Error(msg string, args ...any) {
	l.logger.Error(l.prefix+msg, args...)
}

type ctxArgsKey struct{}

func defaultArgs(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	args, _ := ctx.Value(ctxArgsKey{}).([]any)
	return args
}

// WithDefaultArgs attaches key/value pairs that every Ctx log call appends.
func WithDefaultArgs(ctx context.Context, args ...any) context.Context {
	existing := defaultArgs(ctx)
	merged := make([]any, 0, len(existing)+len(args))
	merged = append(merged, existing...)
	merged = append(merged, args...)
	return context.WithValue(ctx, ctxArgsKey{}, merged)
}

func (l *slogLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, l.prefix+msg, append(args, defaultArgs(ctx)...)...)
}

func (l *slogLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, l.prefix+msg, append(args, defaultArgs(ctx)...)...)
}

func (l *slogLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, l.prefix+msg, append(args, defaultArgs(ctx)...)...)
}

func (l *slogLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, l.prefix+msg, append(args, defaultArgs(ctx)...)...)
}
