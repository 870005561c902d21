// Package logger owns the process-wide slog logger. Warn and error records
// are mirrored into the debug ring buffer so /api/debug shows recent trouble
// without grepping log files.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/ehrlich-b/perch/internal/debuglog"
)

// Log defaults to slog's default logger until Init replaces it.
var Log = slog.Default()

// Init initializes the global logger. ring may be nil.
func Init(level string, logFile string, ring *debuglog.Ring) error {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	var handler slog.Handler = slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Shorten time format
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})
	if ring != nil {
		handler = &ringHandler{next: handler, ring: ring}
	}

	Log = slog.New(handler)
	slog.SetDefault(Log)

	return nil
}

// ringHandler forwards all records and copies warn+ records into the ring.
type ringHandler struct {
	next slog.Handler
	ring *debuglog.Ring
}

func (h *ringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ringHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		var data map[string]any
		r.Attrs(func(a slog.Attr) bool {
			if data == nil {
				data = make(map[string]any)
			}
			data[a.Key] = a.Value.String()
			return true
		})
		h.ring.Push(r.Level.String(), r.Message, data)
	}
	return h.next.Handle(ctx, r)
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ringHandler{next: h.next.WithAttrs(attrs), ring: h.ring}
}

func (h *ringHandler) WithGroup(name string) slog.Handler {
	return &ringHandler{next: h.next.WithGroup(name), ring: h.ring}
}

func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}
