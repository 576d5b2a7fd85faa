// Package logger builds the process-wide zerolog logger and carries
// request-scoped loggers through context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type contextKey struct{}

// Options selects level and output format. Zero value: info, console, stdout.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // console or json
	Writer io.Writer
}

// New creates a logger from opts. Unknown levels fall back to info.
func New(opts Options) zerolog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if !strings.EqualFold(opts.Format, "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// NewWithWriter creates a JSON logger on w at debug level. Handy in tests.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return New(Options{Level: "debug", Format: "json", Writer: w})
}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored in ctx, or a disabled logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := Lookup(ctx); ok {
		return l
	}
	return zerolog.Nop()
}

// Lookup is FromContext that reports whether ctx carried a logger.
func Lookup(ctx context.Context) (zerolog.Logger, bool) {
	l, ok := ctx.Value(contextKey{}).(zerolog.Logger)
	return l, ok
}
