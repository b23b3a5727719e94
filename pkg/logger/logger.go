// Package logger provides the process-wide leveled logger used by ussdpilot.
//
// Output is printf-style with a level tag, e.g.
//
//	2026/10/15 10:04:05 [INFO] [session] session_0192... started
//
// Lower levels are more verbose.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gookit/color"
)

// Level is the verbosity threshold used by the logger.
type Level int32

const (
	// LevelTrace enables extremely verbose logs (mailbox inputs, timers, etc).
	LevelTrace Level = iota
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug
	// LevelInfo enables informational logs (default).
	LevelInfo
	// LevelWarn enables only warnings and errors.
	LevelWarn
	// LevelError enables only error logs.
	LevelError
)

// String returns the upper-case tag for the level.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int32(l))
	}
}

var (
	level  atomic.Int32
	colors atomic.Bool
	std    = log.New(os.Stderr, "", log.LstdFlags)
)

func init() {
	level.Store(int32(LevelInfo))
}

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// SetOutput replaces the writer used by the global logger.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// SetFlags sets the underlying log flags used for all output.
func SetFlags(flags int) {
	std.SetFlags(flags)
}

// SetLevel sets the global log level threshold.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// SetColor toggles ANSI colouring of level tags. It is off by default so
// that logs written to files stay plain.
func SetColor(enabled bool) {
	colors.Store(enabled)
}

// Enabled reports whether a level would be emitted by the current configuration.
func Enabled(l Level) bool {
	return l >= Level(level.Load())
}

// Tracef logs at TRACE level.
func Tracef(format string, args ...any) { logf(LevelTrace, format, args...) }

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }

// Infof logs at INFO level.
func Infof(format string, args ...any) { logf(LevelInfo, format, args...) }

// Warnf logs at WARN level.
func Warnf(format string, args ...any) { logf(LevelWarn, format, args...) }

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }

func logf(l Level, format string, args ...any) {
	if !Enabled(l) {
		return
	}
	_ = std.Output(3, tag(l)+" "+fmt.Sprintf(format, args...))
}

func tag(l Level) string {
	t := "[" + l.String() + "]"
	if !colors.Load() {
		return t
	}
	switch l {
	case LevelTrace:
		return color.Gray.Sprint(t)
	case LevelDebug:
		return color.Cyan.Sprint(t)
	case LevelWarn:
		return color.Yellow.Sprint(t)
	case LevelError:
		return color.Red.Sprint(t)
	default:
		return color.Green.Sprint(t)
	}
}
