package stream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrBusy is returned by Consumer.Submit while a session is authenticating or
// streaming.
var ErrBusy = errors.New("stream: a submission is already in progress")

// ResponseError is a response the transport could not stream: a non-2xx status or
// a body that is not an event stream.
type ResponseError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *ResponseError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("stream: unexpected response %d", e.StatusCode)
	}
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("stream: unexpected response %d: %s", e.StatusCode, body)
}

// NetworkFailure wraps an error raised before any response arrived, or while the
// body was being read.
type NetworkFailure struct {
	Err error
}

func (e *NetworkFailure) Error() string { return "stream: network: " + e.Err.Error() }

func (e *NetworkFailure) Unwrap() error { return e.Err }

// ErrorEvent carries the data of an `event: error` message sent by the server after
// the stream had started.
type ErrorEvent struct {
	Data []byte
}

func (e *ErrorEvent) Error() string { return fmt.Sprintf("stream: server error event: %s", e.Data) }
