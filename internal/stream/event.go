package stream

import (
	"context"
	"net/http"
)

// EventKind tags an Event.
type EventKind int

const (
	// EventOpen: a connection was established and the response is streaming.
	EventOpen EventKind = iota
	// EventMessage: one message event; Data is appended to the buffer.
	EventMessage
	// EventError: the exchange failed; Err is classified by the session.
	EventError
	// EventClose: the server ended the stream.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is what a Transport delivers to a session.
type Event struct {
	Kind EventKind
	Data string
	ID   string
	Name string
	Err  error

	// retry receives the session's verdict for EventError.
	retry chan bool
}

// Request is one streaming exchange. A nil Body sends GET, otherwise POST with a
// JSON content type, unless Method is set.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func (r Request) method() string {
	if r.Method != "" {
		return r.Method
	}
	if r.Body != nil {
		return http.MethodPost
	}
	return http.MethodGet
}

func (r Request) clone() Request {
	out := r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// Transport opens a request and feeds events until the exchange ends for good.
//
// Implementations deliver events with Send and ReportError, stop as soon as ctx is
// done and return only after the connection has been released. Reconnection after
// an error is the transport's business, but it must ask first: ReportError returns
// false when the session forbids another attempt.
type Transport interface {
	Stream(ctx context.Context, req Request, events chan<- Event) error
}

// Send delivers ev unless ctx is done first. It reports whether ev was delivered.
func Send(ctx context.Context, events chan<- Event, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// ReportError delivers an EventError and waits for the session's verdict. It
// returns true when the transport may reconnect.
func ReportError(ctx context.Context, events chan<- Event, err error) bool {
	reply := make(chan bool, 1)
	if !Send(ctx, events, Event{Kind: EventError, Err: err, retry: reply}) {
		return false
	}
	select {
	case retry := <-reply:
		return retry && ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}

// Sink receives the user-visible state of the current submission.
type Sink interface {
	// Reset clears the displayed buffer and error at the start of a submission.
	Reset()
	// Update receives the whole cumulative buffer after each append.
	Update(buffer string)
	// Fail receives the user-visible message, once per failure.
	Fail(message string)
}
