// Package medistream is the public API for embedding the medistream client: the
// token decoder and the streaming consumer with its collaborators.
package medistream

import (
	"time"

	"github.com/nghyane/medistream/internal/credential"
	"github.com/nghyane/medistream/internal/display"
	"github.com/nghyane/medistream/internal/forms"
	"github.com/nghyane/medistream/internal/stream"
	"github.com/nghyane/medistream/internal/token"
)

// Decoded is a structurally decoded token. It is never verified.
type Decoded = token.Decoded

// ErrMalformed is wrapped by every Decode error.
var ErrMalformed = token.ErrMalformed

// Decode splits a compact token and decodes its header and payload.
func Decode(s string) (*Decoded, error) {
	return token.Decode(s)
}

// Consumer runs one streaming session per submission.
type Consumer = stream.Consumer

// Session is one streaming exchange.
type Session = stream.Session

// Request describes the HTTP request a session sends.
type Request = stream.Request

// Transport opens a request and feeds events to a session.
type Transport = stream.Transport

// Event is what a Transport delivers.
type Event = stream.Event

// Sink receives the cumulative buffer and failure messages.
type Sink = stream.Sink

// Failure is a classified session failure.
type Failure = stream.Failure

// FailureKind classifies a Failure.
type FailureKind = stream.FailureKind

// State is a session lifecycle state.
type State = stream.State

const (
	AuthRequired    = stream.AuthRequired
	AuthError       = stream.AuthError
	ValidationError = stream.ValidationError
	ServerError     = stream.ServerError
	NetworkError    = stream.NetworkError

	StateIdle           = stream.StateIdle
	StateAuthenticating = stream.StateAuthenticating
	StateStreaming      = stream.StateStreaming
	StateClosed         = stream.StateClosed
	StateFailed         = stream.StateFailed
)

// ErrBusy is returned by Submit while a session is authenticating or streaming.
var ErrBusy = stream.ErrBusy

// CredentialSource supplies bearer credentials.
type CredentialSource = credential.Source

// ErrNoCredential reports that no credential is available.
var ErrNoCredential = credential.ErrNoCredential

// StaticCredential always returns the same token.
type StaticCredential = credential.Static

// EnvCredential reads the token from an environment variable on every call.
type EnvCredential = credential.Env

// Recorder is an in-memory Sink.
type Recorder = display.Recorder

// Field is one form input.
type Field = forms.Field

// NewConsumer returns a Consumer. A nil sink discards updates.
func NewConsumer(source CredentialSource, transport Transport, sink Sink) *Consumer {
	return stream.NewConsumer(source, transport, sink)
}

// NewHTTPTransport returns the SSE-over-HTTP transport. maxRetries of zero means
// unlimited reconnection.
func NewHTTPTransport(proxyURL string, retryInterval time.Duration, maxRetries int) *stream.HTTPTransport {
	return stream.NewHTTPTransport(proxyURL, retryInterval, maxRetries)
}

// NewTerminal returns a Sink printing appended text to out and failures to errOut.
var NewTerminal = display.NewTerminal

// FormBody renders fields as a JSON object in the given order.
func FormBody(fields []Field) ([]byte, error) {
	return forms.Body(fields)
}
