// Package logging is medistream's logging facade. It exposes logrus-style helpers
// (Infof, WithField, WithError) on top of log/slog with a compact text handler,
// optional rotating file output and gin middleware.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	defaultLogger *slog.Logger
	logLevel                = new(slog.LevelVar)
	logOutput     io.Writer = os.Stdout
	outputMu      sync.RWMutex
	nowFunc       = time.Now
)

// Fields is a set of structured attributes attached to a single log line.
type Fields map[string]any

const (
	DebugLevel = slog.LevelDebug
	InfoLevel  = slog.LevelInfo
	WarnLevel  = slog.LevelWarn
	ErrorLevel = slog.LevelError
)

func init() {
	logLevel.Set(slog.LevelInfo)
	defaultLogger = slog.New(NewTextHandler(os.Stdout, logLevel, true))
}

func reconfigure(w io.Writer, addSource bool) {
	outputMu.Lock()
	defer outputMu.Unlock()
	logOutput = w
	defaultLogger = slog.New(NewTextHandler(w, logLevel, addSource))
}

func logger() *slog.Logger {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return defaultLogger
}

// SetOutput redirects all subsequent log lines to w.
func SetOutput(w io.Writer) {
	reconfigure(w, true)
}

// SetLevel changes the minimum level emitted.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// GetLevel reports the minimum level emitted.
func GetLevel() slog.Level {
	return logLevel.Level()
}

// SetDebug toggles between debug and info level.
func SetDebug(debug bool) {
	if debug {
		SetLevel(slog.LevelDebug)
		return
	}
	SetLevel(slog.LevelInfo)
}

// SetReportCaller toggles the file:line prefix.
func SetReportCaller(enabled bool) {
	outputMu.RLock()
	w := logOutput
	outputMu.RUnlock()
	reconfigure(w, enabled)
}

func Debug(msg string) { logAt(slog.LevelDebug, msg, nil) }

func Debugf(format string, args ...any) {
	logAt(slog.LevelDebug, fmt.Sprintf(format, args...), nil)
}

func Info(msg string) { logAt(slog.LevelInfo, msg, nil) }

func Infof(format string, args ...any) {
	logAt(slog.LevelInfo, fmt.Sprintf(format, args...), nil)
}

func Warn(msg string) { logAt(slog.LevelWarn, msg, nil) }

func Warnf(format string, args ...any) {
	logAt(slog.LevelWarn, fmt.Sprintf(format, args...), nil)
}

func Error(msg string) { logAt(slog.LevelError, msg, nil) }

func Errorf(format string, args ...any) {
	logAt(slog.LevelError, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs at error level, runs registered exit handlers and exits with status 1.
func Fatalf(format string, args ...any) {
	logAt(slog.LevelError, fmt.Sprintf(format, args...), nil)
	runExitHandlers()
	os.Exit(1)
}

func logAt(level slog.Level, msg string, attrs []slog.Attr) {
	l := logger()
	if !l.Enabled(context.Background(), level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(nowFunc(), level, msg, pcs[0])
	if len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	_ = l.Handler().Handle(context.Background(), r)
}

// Entry accumulates fields for a single log line.
type Entry struct {
	attrs []slog.Attr
}

func WithError(err error) *Entry {
	return &Entry{attrs: []slog.Attr{slog.Any("error", err)}}
}

func WithField(key string, value any) *Entry {
	return &Entry{attrs: []slog.Attr{slog.Any(key, value)}}
}

func WithFields(fields Fields) *Entry {
	attrs := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return &Entry{attrs: attrs}
}

func (e *Entry) WithField(key string, value any) *Entry {
	e.attrs = append(e.attrs, slog.Any(key, value))
	return e
}

func (e *Entry) WithError(err error) *Entry {
	e.attrs = append(e.attrs, slog.Any("error", err))
	return e
}

func (e *Entry) Debug(msg string) { logAt(slog.LevelDebug, msg, e.attrs) }

func (e *Entry) Debugf(format string, args ...any) {
	logAt(slog.LevelDebug, fmt.Sprintf(format, args...), e.attrs)
}

func (e *Entry) Info(msg string) { logAt(slog.LevelInfo, msg, e.attrs) }

func (e *Entry) Infof(format string, args ...any) {
	logAt(slog.LevelInfo, fmt.Sprintf(format, args...), e.attrs)
}

func (e *Entry) Warn(msg string) { logAt(slog.LevelWarn, msg, e.attrs) }

func (e *Entry) Warnf(format string, args ...any) {
	logAt(slog.LevelWarn, fmt.Sprintf(format, args...), e.attrs)
}

func (e *Entry) Error(msg string) { logAt(slog.LevelError, msg, e.attrs) }

func (e *Entry) Errorf(format string, args ...any) {
	logAt(slog.LevelError, fmt.Sprintf(format, args...), e.attrs)
}

// Writer returns an io.Writer that logs every line written to it at info level.
func Writer() io.Writer {
	return &slogWriter{level: slog.LevelInfo}
}

// WriterLevel is Writer with an explicit level.
func WriterLevel(level slog.Level) io.Writer {
	return &slogWriter{level: level}
}

type slogWriter struct {
	level slog.Level
}

func (w *slogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\r\n")
	if msg == "" {
		return len(p), nil
	}
	l := logger()
	if !l.Enabled(context.Background(), w.level) {
		return len(p), nil
	}

	var pcs [1]uintptr
	runtime.Callers(4, pcs[:])

	r := slog.NewRecord(nowFunc(), w.level, msg, pcs[0])
	_ = l.Handler().Handle(context.Background(), r)
	return len(p), nil
}

var (
	exitHandlers   []func()
	exitHandlersMu sync.Mutex
)

// RegisterExitHandler schedules fn to run before Fatalf exits the process.
func RegisterExitHandler(fn func()) {
	exitHandlersMu.Lock()
	defer exitHandlersMu.Unlock()
	exitHandlers = append(exitHandlers, fn)
}

func runExitHandlers() {
	exitHandlersMu.Lock()
	handlers := make([]func(), len(exitHandlers))
	copy(handlers, exitHandlers)
	exitHandlersMu.Unlock()

	for _, h := range handlers {
		h()
	}
}
