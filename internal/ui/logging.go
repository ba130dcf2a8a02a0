package ui

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Logger writes leveled lines to the console and, when configured, to a log
// file. Debug lines never reach the console unless Debug is set, so progress
// bars stay readable.
type Logger struct {
	Debug bool

	mu     sync.Mutex
	out    io.Writer
	file   *log.Logger
	closer io.Closer
	level  Level
}

func NewLogger(debug bool) *Logger {
	l := &Logger{Debug: debug, out: os.Stdout, level: LevelInfo}
	if debug {
		l.level = LevelDebug
	}
	return l
}

// NewLoggerTo is used by tests and the API server to capture output.
func NewLoggerTo(w io.Writer, debug bool) *Logger {
	l := NewLogger(debug)
	l.out = w
	return l
}

// WithFile mirrors every line at or above level into path, timestamped.
func (l *Logger) WithFile(path string, level Level) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.file = log.New(f, "", 0)
	l.closer = f
	if level < l.level {
		l.level = level
	}

	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer, l.file = nil, nil
	return err
}

func (l *Logger) log(lvl Level, prefix, format string, args ...any) {
	if l == nil || lvl < l.level {
		return
	}

	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Printf("%s [%s] %s", time.Now().Format("2006-01-02 15:04:05"), prefix, msg)
	}

	if lvl == LevelDebug && !l.Debug {
		return
	}
	if l.out != nil {
		fmt.Fprintf(l.out, "[%s] %s\n", prefix, msg)
	}
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, "DEBUG", format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, "INFO", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, "WARN", format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, "ERROR", format, args...) }

// Write lets echo and other libraries log through the same sink.
func (l *Logger) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		l.Infof("%s", msg)
	}
	return len(p), nil
}
