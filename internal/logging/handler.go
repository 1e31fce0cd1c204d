package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// TextHandler renders records as
//
//	[2006-01-02 15:04:05] [info] [file.go:42] message | key=value
type TextHandler struct {
	w         io.Writer
	level     *slog.LevelVar
	addSource bool
	attrs     []slog.Attr
	mu        *sync.Mutex
}

func NewTextHandler(w io.Writer, level *slog.LevelVar, addSource bool) *TextHandler {
	return &TextHandler{
		w:         w,
		level:     level,
		addSource: addSource,
		mu:        &sync.Mutex{},
	}
}

func (h *TextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *TextHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(r.Time.Format("2006-01-02 15:04:05"))
	b.WriteString("] [")
	b.WriteString(strings.ToLower(r.Level.String()))
	b.WriteString("] ")

	if h.addSource && r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		if f.File != "" {
			fmt.Fprintf(&b, "[%s:%d] ", filepath.Base(f.File), f.Line)
		}
	}
	b.WriteString(r.Message)

	n := 0
	writeAttr := func(a slog.Attr) {
		if n == 0 {
			b.WriteString(" | ")
		} else {
			b.WriteString(" ")
		}
		n++
		b.WriteString(a.Key)
		b.WriteString("=")
		fmt.Fprintf(&b, "%v", a.Value.Any())
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

// WithGroup is a no-op; groups are flattened into the key=value tail.
func (h *TextHandler) WithGroup(string) slog.Handler {
	return h
}
