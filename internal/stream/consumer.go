// Package stream consumes server-sent text streams on behalf of a user-facing form.
//
// A Consumer runs one Session per submission. Each session obtains a bearer
// credential, opens the request through a Transport and republishes the cumulative
// text buffer to a Sink after every message event. Failures are classified into
// FailureKind values; 401 and 403 responses cancel the session and forbid the
// transport from reconnecting, every other failure leaves reconnection to the
// transport.
package stream

import (
	"context"
	"sync"

	"github.com/nghyane/medistream/internal/credential"
)

// Consumer serialises submissions: at most one session is authenticating or
// streaming at a time.
type Consumer struct {
	source    credential.Source
	transport Transport
	sink      Sink

	mu      sync.Mutex
	current *Session
}

// NewConsumer returns a Consumer. A nil sink discards updates.
func NewConsumer(source credential.Source, transport Transport, sink Sink) *Consumer {
	if sink == nil {
		sink = discardSink{}
	}
	return &Consumer{source: source, transport: transport, sink: sink}
}

// Submit starts a new session for req. The sink is reset before the credential is
// requested. It returns ErrBusy while the previous session is still authenticating
// or streaming; a previous session that failed and is waiting to reconnect is
// cancelled instead.
func (c *Consumer) Submit(ctx context.Context, req Request) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev := c.current; prev != nil {
		select {
		case <-prev.Done():
		default:
			if prev.State().Active() {
				return nil, ErrBusy
			}
			prev.Cancel()
			<-prev.Done()
		}
	}

	c.sink.Reset()
	s := newSession(ctx, c.source, c.transport, c.sink, req)
	c.current = s
	go s.run()
	return s, nil
}

// Current returns the most recent session, or nil before the first Submit.
func (c *Consumer) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Cancel stops the current session, if any.
func (c *Consumer) Cancel() {
	if s := c.Current(); s != nil {
		s.Cancel()
	}
}

type discardSink struct{}

func (discardSink) Reset()        {}
func (discardSink) Update(string) {}
func (discardSink) Fail(string)   {}
