// Package logging configures the process-wide zerolog logger and derives the
// child loggers used across a narration session: per session, per WebSocket
// bridge, per recognition source and per component.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // trace, debug, info, warn, error
	Format     string // json, console
	TimeFormat string
	Output     string // stdout, stderr
	Service    string // stamped on every line when set
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
		Output:     "stdout",
	}
}

// Init replaces the global logger according to cfg.
func Init(cfg Config) {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	log.Logger = New(cfg, writerFor(cfg.Output))
}

// New builds a logger writing to w without touching global state.
// Caller information is only attached at debug and below.
func New(cfg Config, w io.Writer) zerolog.Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(w).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	if ParseLevel(cfg.Level) <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// ParseLevel parses a level name, falling back to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return l
}

func writerFor(output string) io.Writer {
	if output == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithSession returns a logger for one recording session.
func WithSession(sessionId string) zerolog.Logger {
	return log.With().
		Str("sessionId", sessionId).
		Logger()
}

// WithConnection returns a logger for a WebSocket session bridge. sessionId
// may be empty before the bridge's controller exists.
func WithConnection(connId, sessionId string) zerolog.Logger {
	ctx := log.With().Str("connId", connId)
	if sessionId != "" {
		ctx = ctx.Str("sessionId", sessionId)
	}
	return ctx.Logger()
}

// WithSource returns a logger for a recognition source of the given provider.
func WithSource(provider string) zerolog.Logger {
	return log.With().
		Str("component", "recognition").
		Str("recognitionProvider", provider).
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}
