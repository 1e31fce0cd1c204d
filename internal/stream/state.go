package stream

import "fmt"

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateStreaming
	StateClosed // end of stream, terminal
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether a session in this state blocks a new submission.
func (s State) Active() bool {
	return s == StateAuthenticating || s == StateStreaming
}

// FailureKind classifies why a session failed.
type FailureKind int

const (
	FailureNone FailureKind = iota

	// AuthRequired: no credential was available, no request was sent.
	AuthRequired

	// AuthError: the server answered 401 or 403. Never retried.
	AuthError

	// ValidationError: the server named missing required inputs.
	ValidationError

	// ServerError: the server answered with an error, structured or not.
	ServerError

	// NetworkError: no response was received.
	NetworkError
)

func (k FailureKind) String() string {
	switch k {
	case AuthRequired:
		return "auth_required"
	case AuthError:
		return "auth_error"
	case ValidationError:
		return "validation_error"
	case ServerError:
		return "server_error"
	case NetworkError:
		return "network_error"
	default:
		return "none"
	}
}

// ShouldRetry reports whether the transport may reconnect after this failure.
func (k FailureKind) ShouldRetry() bool {
	switch k {
	case ValidationError, ServerError, NetworkError:
		return true
	default:
		return false
	}
}

// Failure is a classified session failure. Message is the user-visible text.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }
