// Package logging is the structured logger of a conversion run. Every run
// carries a run_id that is stamped on all of its records.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Field is one key/value pair of a record.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field    { return Field{Key: key, Value: value} }
func Int(key string, value int) Field   { return Field{Key: key, Value: value} }
func Float(key string, v float64) Field { return Field{Key: key, Value: v} }
func Any(key string, value any) Field   { return Field{Key: key, Value: value} }

// Err records err under "error". A nil error logs as "".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config selects the level and encoding of the run log.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // text or json
	AddSource bool
	Output    io.Writer // stderr when nil
}

// New returns a Logger writing through log/slog.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level(cfg.Level), AddSource: cfg.AddSource}
	if strings.EqualFold(cfg.Format, "json") {
		return &slogger{l: slog.New(slog.NewJSONHandler(out, opts))}
	}
	return &slogger{l: slog.New(slog.NewTextHandler(out, opts))}
}

// Noop discards everything.
func Noop() Logger { return noopLogger{} }

type slogger struct {
	l *slog.Logger
}

func (s *slogger) With(fields ...Field) Logger {
	args := make([]any, len(fields))
	for i, a := range attrs(fields) {
		args[i] = a
	}
	return &slogger{l: s.l.With(args...)}
}

func (s *slogger) Debug(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelDebug, msg, attrs(fields)...)
}

func (s *slogger) Info(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelInfo, msg, attrs(fields)...)
}

func (s *slogger) Warn(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelWarn, msg, attrs(fields)...)
}

func (s *slogger) Error(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelError, msg, attrs(fields)...)
}

type noopLogger struct{}

func (noopLogger) With(...Field) Logger                    { return noopLogger{} }
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}

func attrs(fields []Field) []slog.Attr {
	out := make([]slog.Attr, len(fields))
	for i, f := range fields {
		out[i] = slog.Any(f.Key, f.Value)
	}
	return out
}

func level(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type ctxKey int

const (
	runIDKey ctxKey = iota
	loggerKey
)

// RunIDFromContext returns the run_id of ctx, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// WithRunLogger stores on ctx a logger derived from base that stamps every
// record with the run's run_id. An existing run_id is reused; otherwise a
// new one is generated.
func WithRunLogger(ctx context.Context, base Logger) (context.Context, Logger) {
	if base == nil {
		base = Noop()
	}
	id := RunIDFromContext(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = context.WithValue(ctx, runIDKey, id)
	}
	l := base.With(String("run_id", id))
	return context.WithValue(ctx, loggerKey, l), l
}

// FromContext returns the run logger of ctx, or Noop.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Noop()
}
