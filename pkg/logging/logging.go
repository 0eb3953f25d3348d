package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Environment variables read on first use:
//   - GROUNDED_LOG_FORMAT: "json" (default) or "text"
//   - GROUNDED_LOG_LEVEL: debug|info|warn|error
const (
	envFormat = "GROUNDED_LOG_FORMAT"
	envLevel  = "GROUNDED_LOG_LEVEL"
)

var (
	current  atomic.Pointer[slog.Logger]
	initOnce sync.Once
)

// Logger returns the process-wide logger, building it from the environment
// on first use.
func Logger() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	initOnce.Do(func() {
		current.CompareAndSwap(nil, build(os.Stdout))
	})
	return current.Load()
}

// SetLogger replaces the process-wide logger. Tests use this to capture or
// silence output.
func SetLogger(l *slog.Logger) {
	if l != nil {
		current.Store(l)
	}
}

// WithComponent returns the shared logger scoped to a pipeline component.
func WithComponent(name string) *slog.Logger {
	return Logger().With("component", name)
}

func build(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv(envLevel))}

	var h slog.Handler
	if strings.EqualFold(os.Getenv(envFormat), "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "grounded")
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
