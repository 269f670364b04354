package can

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel selects the minimum severity a Logger emits.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is the logging surface the driver writes its diagnostics to.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type stdLogger struct {
	level atomic.Int32
	l     *log.Logger
}

// NewLogger returns a leveled logger over the standard library writing to
// stderr.
func NewLogger(level string) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	sl := &stdLogger{l: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)}
	sl.level.Store(int32(lvl))
	return sl, nil
}

// ParseLevel converts the textual representation into a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "err":
		return LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

func (l *stdLogger) logf(level LogLevel, prefix, format string, args ...any) {
	if LogLevel(l.level.Load()) > level {
		return
	}
	l.l.Printf(prefix+format, args...)
}

func (l *stdLogger) Debugf(format string, args ...any) { l.logf(LevelDebug, "[DEBUG] ", format, args...) }
func (l *stdLogger) Infof(format string, args ...any)  { l.logf(LevelInfo, "[INFO] ", format, args...) }
func (l *stdLogger) Warnf(format string, args ...any)  { l.logf(LevelWarn, "[WARN] ", format, args...) }
func (l *stdLogger) Errorf(format string, args ...any) { l.logf(LevelError, "[ERROR] ", format, args...) }

// nopLogger drops everything; used when no logger is supplied.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
