package display

import "sync"

// Recorder keeps every published buffer and error message.
type Recorder struct {
	mu      sync.Mutex
	updates []string
	errors  []string
	resets  int
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	r.updates = nil
	r.errors = nil
}

func (r *Recorder) Update(buffer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, buffer)
}

func (r *Recorder) Fail(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

// Updates returns the buffers published since the last Reset, oldest first.
func (r *Recorder) Updates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.updates...)
}

// Errors returns the failure messages published since the last Reset.
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// Buffer returns the latest published buffer.
func (r *Recorder) Buffer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return ""
	}
	return r.updates[len(r.updates)-1]
}

// Error returns the latest failure message.
func (r *Recorder) Error() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errors) == 0 {
		return ""
	}
	return r.errors[len(r.errors)-1]
}

// Resets counts calls to Reset.
func (r *Recorder) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}
