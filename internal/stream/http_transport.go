package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	log "github.com/nghyane/medistream/internal/logging"
	"github.com/nghyane/medistream/internal/util"
)

const (
	// DefaultRetryInterval is the reconnect delay until the server sends retry:.
	DefaultRetryInterval = time.Second

	maxErrorBody = 64 << 10
)

// HTTPTransport streams text/event-stream responses over HTTP and reconnects after
// failures the session allows to be retried.
type HTTPTransport struct {
	Client        *http.Client
	RetryInterval time.Duration
	// MaxRetries bounds reconnection attempts; zero means unlimited.
	MaxRetries int
	UserAgent  string
}

// NewHTTPTransport returns a transport using a proxy-aware client without a
// timeout, since a stream may legitimately run for minutes.
func NewHTTPTransport(proxyURL string, retryInterval time.Duration, maxRetries int) *HTTPTransport {
	return &HTTPTransport{
		Client:        util.NewHTTPClient(proxyURL, 0),
		RetryInterval: retryInterval,
		MaxRetries:    maxRetries,
		UserAgent:     "medistream-cli",
	}
}

type connState struct {
	lastID string
	retry  time.Duration
}

func (t *HTTPTransport) Stream(ctx context.Context, req Request, events chan<- Event) error {
	st := &connState{retry: t.RetryInterval}
	if st.retry <= 0 {
		st.retry = DefaultRetryInterval
	}

	for attempts := 0; ; {
		err := t.attempt(ctx, req, st, events)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !ReportError(ctx, events, err) {
			return err
		}
		attempts++
		if t.MaxRetries > 0 && attempts > t.MaxRetries {
			return fmt.Errorf("stream: giving up after %d reconnection attempts: %w", t.MaxRetries, err)
		}

		log.WithFields(log.Fields{"url": req.URL, "attempt": attempts}).Infof("reconnecting in %s", st.retry)
		timer := time.NewTimer(st.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// attempt runs one connection. It returns nil after the server closed the stream
// cleanly and the close event was delivered.
func (t *HTTPTransport) attempt(ctx context.Context, req Request, st *connState, events chan<- Event) error {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method(), req.URL, body)
	if err != nil {
		return &NetworkFailure{Err: err}
	}
	httpReq.Header = req.Header.Clone()
	if httpReq.Header == nil {
		httpReq.Header = make(http.Header)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if st.lastID != "" {
		httpReq.Header.Set("Last-Event-ID", st.lastID)
	}
	if t.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.UserAgent)
	}

	resp, err := t.client().Do(httpReq)
	if err != nil {
		return &NetworkFailure{Err: err}
	}
	reader, err := util.DecodeResponseBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return &NetworkFailure{Err: err}
	}
	defer func() {
		if errClose := reader.Close(); errClose != nil {
			log.Debugf("stream: close response body: %v", errClose)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !isEventStream(resp.Header.Get("Content-Type")) {
		data, _ := util.ReadLimited(reader, maxErrorBody)
		return &ResponseError{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: data}
	}

	if !Send(ctx, events, Event{Kind: EventOpen}) {
		return ctx.Err()
	}

	parser := NewParser(reader)
	for {
		msg, err := parser.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				if !Send(ctx, events, Event{Kind: EventClose}) {
					return ctx.Err()
				}
				return nil
			}
			return &NetworkFailure{Err: err}
		}

		if msg.HasID {
			st.lastID = msg.ID
		}
		if msg.HasRetry {
			st.retry = msg.Retry
		}
		if msg.Event == "error" {
			return &ErrorEvent{Data: []byte(msg.Data)}
		}
		if !msg.HasData {
			continue
		}
		if !Send(ctx, events, Event{Kind: EventMessage, Data: msg.Data, ID: msg.ID, Name: msg.Event}) {
			return ctx.Err()
		}
	}
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/event-stream"
}
