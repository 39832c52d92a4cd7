// Package logger builds the zerolog loggers used by the server and the CLI and
// carries a request-scoped logger through contexts.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, output format and the fields stamped on every entry.
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, console
	Service     string
	Version     string
	Environment string
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
}

// New returns a logger writing to stdout.
func New(cfg Config) zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter returns a logger writing to out. The level is set on the logger
// itself, so two loggers in one process can log at different levels.
func NewWithWriter(cfg Config, out io.Writer) zerolog.Logger {
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(out).Level(Level(cfg.Level)).With().Timestamp()
	for _, f := range [][2]string{
		{"service", cfg.Service},
		{"version", cfg.Version},
		{"environment", cfg.Environment},
	} {
		if f[1] != "" {
			ctx = ctx.Str(f[0], f[1])
		}
	}
	return ctx.Logger()
}

// Level parses a level name. Unknown or empty names mean info.
func Level(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or a disabled logger.
func FromContext(ctx context.Context) zerolog.Logger {
	return FromContextOr(ctx, zerolog.Nop())
}

// FromContextOr returns the logger stored in ctx, or fallback.
func FromContextOr(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return fallback
	}
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return fallback
}

// RedactKey masks an order key so only a short suffix reaches the logs.
func RedactKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 4:
		return "***"
	default:
		return "***" + key[len(key)-4:]
	}
}

// TruncateID shortens long processor identifiers for console output.
func TruncateID(id string) string {
	const head, tail = 8, 4
	if len(id) <= head+tail {
		return id
	}
	return id[:head] + "..." + id[len(id)-tail:]
}
