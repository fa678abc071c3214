package util

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	logger  *slog.Logger
	verbose bool
)

// InitLogger initializes the global slog logger. Logs go to stderr so that
// stdout stays free for command output.
func InitLogger(v bool) {
	InitLoggerTo(os.Stderr, v)
}

// InitLoggerTo is InitLogger with an explicit destination.
func InitLoggerTo(w io.Writer, v bool) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if v {
		opts.Level = slog.LevelDebug
	}

	l := slog.New(slog.NewTextHandler(w, opts))
	mu.Lock()
	logger = l
	verbose = v
	mu.Unlock()
	slog.SetDefault(l)
}

// SetLogger replaces the global logger, mostly for tests.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// GetLogger returns the configured logger instance
func GetLogger() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		// Fallback initialization with INFO level
		InitLogger(IsVerbose())
		return GetLogger()
	}
	return l
}

// IsVerbose reports whether debug logging was requested, either through
// InitLogger or on the command line.
func IsVerbose() bool {
	mu.RLock()
	v := verbose
	mu.RUnlock()
	if v {
		return true
	}
	for _, arg := range os.Args {
		if arg == "--verbose" || arg == "-v" {
			return true
		}
	}
	return false
}
