package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the minimum severity that gets written.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the label used in log lines
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
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string to a Level. Unknown values map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	mu     sync.Mutex
	out    = log.New(io.Discard, "", 0)
	level  = LevelInfo
	closer io.Closer
)

// Init opens (or creates) the log file and sets the minimum level.
// stdout belongs to the msgpack-rpc channel, so logs never go there.
func Init(path string, lvl Level) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	SetOutput(f, lvl)
	mu.Lock()
	closer = f
	mu.Unlock()
	return nil
}

// SetOutput redirects logging to w. Used by Init and by tests.
func SetOutput(w io.Writer, lvl Level) {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer.Close()
		closer = nil
	}
	out = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
	level = lvl
}

// Close flushes and closes the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer.Close()
		closer = nil
	}
	out = log.New(io.Discard, "", 0)
}

// Enabled reports whether messages at lvl are written
func Enabled(lvl Level) bool {
	mu.Lock()
	defer mu.Unlock()
	return lvl >= level
}

func logf(lvl Level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if lvl < level {
		return
	}
	out.Printf("[%s] %s", lvl, fmt.Sprintf(format, args...))
}

func Debug(format string, args ...any) { logf(LevelDebug, format, args...) }
func Info(format string, args ...any)  { logf(LevelInfo, format, args...) }
func Warn(format string, args ...any)  { logf(LevelWarn, format, args...) }
func Error(format string, args ...any) { logf(LevelError, format, args...) }

// Trace logs entry and exit of name with elapsed time:
//
//	defer logger.Trace("buffer.SetLine")()
func Trace(name string) func() {
	if !Enabled(LevelTrace) {
		return func() {}
	}
	start := time.Now()
	logf(LevelTrace, "-> %s", name)
	return func() {
		logf(LevelTrace, "<- %s (%s)", name, time.Since(start))
	}
}
