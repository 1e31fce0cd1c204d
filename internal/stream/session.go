package stream

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nghyane/medistream/internal/credential"
	log "github.com/nghyane/medistream/internal/logging"
	"github.com/nghyane/medistream/internal/token"
)

// Session is one streaming exchange. Its buffer and error slot are written only by
// the session's own goroutine; the accessors are safe from any goroutine.
type Session struct {
	id        string
	source    credential.Source
	transport Transport
	sink      Sink
	req       Request

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	state     State
	buffer    strings.Builder
	failure   *Failure
	cancelled bool
}

func newSession(parent context.Context, source credential.Source, transport Transport, sink Sink, req Request) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:        uuid.NewString(),
		source:    source,
		transport: transport,
		sink:      sink,
		req:       req.clone(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateAuthenticating,
	}
}

// ID identifies the session in log lines.
func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Buffer returns the text accumulated so far.
func (s *Session) Buffer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffer.String()
}

// Failure returns the most recent failure, or nil.
func (s *Session) Failure() *Failure {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// Done is closed once the session has ended and its connection is released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Cancel stops the session. Events already in flight are discarded.
func (s *Session) Cancel() {
	s.mu.Lock()
	if !s.settledLocked() {
		s.cancelled = true
	}
	s.mu.Unlock()
	s.cancel()
}

// Wait blocks until the session ends or ctx is done, then returns Err.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err is nil after a clean end of stream, the Failure after a failure and
// context.Canceled after Cancel.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.cancelled:
		return context.Canceled
	case s.state == StateFailed && s.failure != nil:
		return s.failure
	default:
		return nil
	}
}

// settledLocked reports whether the outcome is already fixed: the session ended, the
// server closed the stream or a non-retryable failure arrived.
func (s *Session) settledLocked() bool {
	select {
	case <-s.done:
		return true
	default:
	}
	switch s.state {
	case StateClosed:
		return true
	case StateFailed:
		return s.failure != nil && !s.failure.Kind.ShouldRetry()
	}
	return false
}

func (s *Session) logger() *log.Entry {
	return log.WithField("session", s.id)
}

// run is the session actor: it owns every transition and every write to the
// buffer, error slot and sink.
func (s *Session) run() {
	defer close(s.done)
	defer s.cancel()

	cred, err := s.source.Credential(s.ctx)
	if s.ctx.Err() != nil {
		s.finishCancelled()
		return
	}
	if err != nil || cred == "" {
		if err != nil && !errors.Is(err, credential.ErrNoCredential) {
			s.logger().WithError(err).Warn("credential lookup failed")
		}
		s.failTerminal(&Failure{Kind: AuthRequired, Message: MsgAuthRequired, Err: err})
		return
	}
	if desc := token.Describe(cred); desc != "" {
		s.logger().Debugf("credential %s", desc)
	}

	req := s.req.clone()
	req.Header.Set("Authorization", "Bearer "+cred)

	events := make(chan Event)
	result := make(chan error, 1)
	go func() {
		result <- s.transport.Stream(s.ctx, req, events)
	}()

	for {
		select {
		case ev := <-events:
			if s.handle(ev) {
				s.cancel()
				s.transportDone(<-result)
				return
			}
		case err := <-result:
			s.transportDone(err)
			return
		case <-s.ctx.Done():
			<-result
			s.finishCancelled()
			return
		}
	}
}

// handle applies one event and reports whether the session is finished.
func (s *Session) handle(ev Event) bool {
	if s.ctx.Err() != nil {
		ev.reply(false)
		return false
	}

	switch ev.Kind {
	case EventOpen:
		s.mu.Lock()
		s.state = StateStreaming
		s.mu.Unlock()
		s.logger().Debug("stream opened")

	case EventMessage:
		s.mu.Lock()
		s.state = StateStreaming
		s.buffer.WriteString(ev.Data)
		buf := s.buffer.String()
		s.mu.Unlock()
		s.sink.Update(buf)

	case EventClose:
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.logger().Debug("stream closed by server")
		return true

	case EventError:
		f := Classify(ev.Err)
		s.mu.Lock()
		s.state = StateFailed
		s.failure = f
		s.mu.Unlock()
		s.sink.Fail(f.Message)

		retry := f.Kind.ShouldRetry()
		s.logger().WithError(ev.Err).WithField("kind", f.Kind.String()).Warnf("stream error (retry=%t)", retry)
		ev.reply(retry)
		if !retry {
			return true
		}
	}
	return false
}

// transportDone records how the transport ended when no event already settled it.
func (s *Session) transportDone(err error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateFailed:
		s.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger().WithError(err).Debug("transport stopped")
		}
		return
	}
	if err == nil || errors.Is(err, context.Canceled) {
		s.state = StateClosed
		s.mu.Unlock()
		return
	}
	f := Classify(err)
	s.state = StateFailed
	s.failure = f
	s.mu.Unlock()
	s.sink.Fail(f.Message)
	s.logger().WithError(err).WithField("kind", f.Kind.String()).Warn("stream failed")
}

func (s *Session) failTerminal(f *Failure) {
	s.mu.Lock()
	s.state = StateFailed
	s.failure = f
	s.mu.Unlock()
	s.sink.Fail(f.Message)
	s.logger().WithField("kind", f.Kind.String()).Warn(f.Message)
}

func (s *Session) finishCancelled() {
	s.mu.Lock()
	s.cancelled = true
	if s.state.Active() {
		s.state = StateClosed
	}
	s.mu.Unlock()
	s.logger().Debug("session cancelled")
}

func (ev Event) reply(retry bool) {
	if ev.retry != nil {
		ev.retry <- retry
	}
}
