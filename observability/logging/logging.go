// Package logging configures structured JSON logging for the daemon. The
// deployment environment selects verbosity: dev and test environments log at
// debug, everything else at info.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup wires the process-wide loggers: slog's default logger emits JSON to
// stdout with the service and environment attached to every line, and the
// standard library logger is bridged into the same handler so existing
// packages keep working. Returns the base logger for direct use.
func Setup(service, env string) *slog.Logger {
	handler := NewHandler(os.Stdout, service, env)
	base := slog.New(handler)
	slog.SetDefault(base)

	stdBridge := slog.NewLogLogger(handler, slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

// NewHandler builds the JSON handler used by Setup, writing to w. Split out
// so tests can capture output.
func NewHandler(w io.Writer, service, env string) slog.Handler {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: LevelFor(env),
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "timestamp"
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				attr.Key = "message"
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	return handler.WithAttrs(attrs)
}

// LevelFor maps a deployment environment onto the minimum log level.
func LevelFor(env string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "test":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
