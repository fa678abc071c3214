package util

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Logger wraps slog with printf style methods for code that receives
// preformatted messages, such as the libav log callback.
type Logger struct {
	slogLogger *slog.Logger
}

// GetCompatLogger returns a printf style logger backed by the global logger,
// tagged with the given component name.
func GetCompatLogger(component string) *Logger {
	l := GetLogger()
	if component != "" {
		l = l.With("component", component)
	}
	return &Logger{slogLogger: l}
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	if !l.slogLogger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.slogLogger.Debug(trimMessage(format, v...))
}

func (l *Logger) Infof(format string, v ...interface{}) {
	l.slogLogger.Info(trimMessage(format, v...))
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.slogLogger.Warn(trimMessage(format, v...))
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.slogLogger.Error(trimMessage(format, v...))
}

func trimMessage(format string, v ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, v...), "\r\n ")
}
