// Package logger configures the process-wide structured logger.
// Components log through log/slog directly; this package only decides the
// handler, level and destination once at startup.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.Mutex
	output io.Writer = os.Stderr
	level            = new(slog.LevelVar)
)

// ParseLevel maps a configuration string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Setup installs the default slog logger. format is "text" or "json".
// verbose forces debug level regardless of levelName.
func Setup(levelName, format string, verbose bool) error {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return err
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	level.Set(lvl)

	mu.Lock()
	w := output
	mu.Unlock()

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// SetOutput sets the writer used by the next Setup call.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// IsVerbose returns true if debug logging is enabled.
func IsVerbose() bool {
	return level.Level() <= slog.LevelDebug
}
