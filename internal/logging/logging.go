// Package logging builds the process logger on log/slog with a level that
// can be changed, or switched off, at runtime.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LevelDisable sits above every real level so nothing is emitted.
const LevelDisable = slog.Level(1 << 10)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error or disable
	Format string // text or json
	Output string // stderr, stdout or a file path
}

// Logger owns the handler level and any opened log file.
type Logger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
	name   atomic.Value
}

// ParseLevel parses a level name, case-insensitively. WARNING and CRITICAL
// are accepted as aliases of warn and error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	case "disable", "disabled", "off":
		return LevelDisable, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New creates a Logger. The MCP stdio transport owns stdout, so callers
// serving over stdio must not pass "stdout".
func New(cfg Config) (*Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(lvl)

	w, closer, err := writer(cfg.Output)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: levelVar}

	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l := &Logger{Logger: slog.New(h), level: levelVar, closer: closer}
	l.name.Store(levelName(lvl))
	return l, nil
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	l, _ := New(Config{Level: "disable", Output: "stderr"})
	return l
}

func writer(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return f, f, nil
	}
}

// SetLevel changes the level of this logger and everything derived from it.
func (l *Logger) SetLevel(name string) error {
	lvl, err := ParseLevel(name)
	if err != nil {
		return err
	}
	l.level.Set(lvl)
	l.name.Store(levelName(lvl))
	return nil
}

// Level returns the current level name.
func (l *Logger) Level() string {
	return l.name.Load().(string)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func levelName(lvl slog.Level) string {
	if lvl >= LevelDisable {
		return "disable"
	}
	return strings.ToLower(lvl.String())
}
