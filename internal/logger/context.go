// Package logger provides utilities for working with [slog] and [context.Context].
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/lmittmann/tint"
)

type ctxKey struct{}

var ctxLoggerKey = ctxKey{}

// WithContext returns a derived [context.Context] that points to
// the given parent, and has the given [slog.Logger] attached to it.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey, l)
}

// FromContext returns the [slog.Logger] attached to the given
// [context.Context], or [slog.Default] if none is attached.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if ctxLogger, ok := ctx.Value(ctxLoggerKey).(*slog.Logger); ok {
		l = ctxLogger
	}
	return l
}

// New returns a [slog.Logger] that writes either human-readable
// colorized lines (pretty = true) or JSON records to w.
func New(w io.Writer, pretty, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	if pretty {
		return slog.New(tint.NewHandler(w, &tint.Options{
			AddSource:  true,
			Level:      level,
			TimeFormat: "15:04:05.000",
		}))
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true, Level: level}))
}

func Fatal(msg string, err error, attrs ...slog.Attr) {
	fatalErrorCtx(context.Background(), msg, err, attrs...)
}

func FatalContext(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	fatalErrorCtx(ctx, msg, err, attrs...)
}

func fatalErrorCtx(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // Discard wrapper frames (Callers, fatalErrorCtx, Fatal*).

	r := slog.NewRecord(time.Now(), slog.LevelError, msg, pcs[0])
	if err != nil {
		r.AddAttrs(slog.Any("error", err))
	}
	r.AddAttrs(attrs...)

	_ = FromContext(ctx).Handler().Handle(ctx, r)
	os.Exit(1)
}
