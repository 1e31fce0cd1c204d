// Package display renders a stream session's cumulative buffer.
package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Terminal writes each update's newly appended suffix to Out and failures to Err.
// If an update does not extend what was already printed (the buffer was replaced),
// the whole buffer is printed on a fresh line.
type Terminal struct {
	Out io.Writer
	Err io.Writer

	mu      sync.Mutex
	printed string
}

func NewTerminal(out, errOut io.Writer) *Terminal {
	return &Terminal{Out: out, Err: errOut}
}

func (t *Terminal) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printed = ""
}

func (t *Terminal) Update(buffer string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if strings.HasPrefix(buffer, t.printed) {
		_, _ = io.WriteString(t.Out, buffer[len(t.printed):])
	} else {
		_, _ = io.WriteString(t.Out, "\n"+buffer)
	}
	t.printed = buffer
}

func (t *Terminal) Fail(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.Err
	if w == nil {
		w = t.Out
	}
	prefix := ""
	if t.printed != "" && !strings.HasSuffix(t.printed, "\n") {
		prefix = "\n"
	}
	_, _ = fmt.Fprintf(w, "%serror: %s\n", prefix, message)
}

// Printed returns everything written to Out since the last Reset.
func (t *Terminal) Printed() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.printed
}
