// Package logging builds the noteai structured logger on [log/slog] and
// carries it through request and background contexts.
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
//	LOG_SOURCE = true                         (adds file:line to each record)
//
// Every logger returned by [New] is tagged with service=noteai. Packages that
// run their own work (the refiner, the reindex scheduler, the sync pipeline)
// derive a child with [Component] so log lines can be filtered by subsystem.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// serviceName tags every record emitted through New.
const serviceName = "noteai"

// contextKey is an unexported type for context keys in this package.
type contextKey struct{}

// New constructs the process logger from LOG_LEVEL, LOG_FORMAT and
// LOG_SOURCE. Records are written to stderr so stdout stays free for
// command output such as search results and streamed answers.
func New() *slog.Logger {
	return newLogger(os.Stderr,
		os.Getenv("LOG_LEVEL"),
		os.Getenv("LOG_FORMAT"),
		strings.EqualFold(os.Getenv("LOG_SOURCE"), "true"),
	)
}

// newLogger builds a logger writing to w. Split from New for tests.
func newLogger(w io.Writer, level, format string, source bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level), AddSource: source}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", serviceName))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the [*slog.Logger] stored in ctx, or [slog.Default]
// when there is none.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Component returns a child of the context logger tagged component=name,
// together with a context carrying it.
func Component(ctx context.Context, name string) (context.Context, *slog.Logger) {
	log := FromContext(ctx).With(slog.String("component", name))
	return WithLogger(ctx, log), log
}

// parseLevel converts a LOG_LEVEL value to a [slog.Level], defaulting to Info.
func parseLevel(s string) slog.Level {
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
