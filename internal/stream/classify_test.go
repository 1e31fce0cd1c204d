package stream

import (
	"errors"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     FailureKind
		message  string
		retrying bool
	}{
		{
			name:    "unauthorized",
			err:     &ResponseError{StatusCode: http.StatusUnauthorized, Body: []byte(`{"detail":"Not authenticated"}`)},
			kind:    AuthError,
			message: MsgAuthError,
		},
		{
			name:    "forbidden",
			err:     &ResponseError{StatusCode: http.StatusForbidden},
			kind:    AuthError,
			message: MsgAuthError,
		},
		{
			name:     "missing fields",
			err:      &ResponseError{StatusCode: http.StatusUnprocessableEntity, Body: []byte(`{"missing_fields":["name","date"]}`)},
			kind:     ValidationError,
			message:  "Please fill in: name, date",
			retrying: true,
		},
		{
			name:     "validation error list",
			err:      &ResponseError{StatusCode: http.StatusUnprocessableEntity, Body: []byte(`{"detail":[{"loc":["body","notes"],"msg":"field required","type":"missing"}]}`)},
			kind:     ValidationError,
			message:  "Please fill in: notes",
			retrying: true,
		},
		{
			name:     "detail message",
			err:      &ResponseError{StatusCode: http.StatusInternalServerError, Body: []byte(`{"detail":"Error generating summary: quota"}`)},
			kind:     ServerError,
			message:  "Error generating summary: quota",
			retrying: true,
		},
		{
			name:     "message field",
			err:      &ResponseError{StatusCode: http.StatusBadGateway, Body: []byte(`{"message":"upstream unavailable"}`)},
			kind:     ServerError,
			message:  "upstream unavailable",
			retrying: true,
		},
		{
			name:     "nested error message",
			err:      &ResponseError{StatusCode: http.StatusTooManyRequests, Body: []byte(`{"error":{"message":"slow down"}}`)},
			kind:     ServerError,
			message:  "slow down",
			retrying: true,
		},
		{
			name:     "unparseable body",
			err:      &ResponseError{StatusCode: http.StatusInternalServerError, Body: []byte("<html>oops</html>")},
			kind:     ServerError,
			message:  MsgServerError,
			retrying: true,
		},
		{
			name:     "json without known fields",
			err:      &ResponseError{StatusCode: http.StatusInternalServerError, Body: []byte(`{"code":17}`)},
			kind:     ServerError,
			message:  MsgServerError,
			retrying: true,
		},
		{
			name:     "empty missing fields falls through",
			err:      &ResponseError{StatusCode: http.StatusUnprocessableEntity, Body: []byte(`{"missing_fields":[],"detail":"bad input"}`)},
			kind:     ServerError,
			message:  "bad input",
			retrying: true,
		},
		{
			name:     "server error event",
			err:      &ErrorEvent{Data: []byte(`{"detail":"Error generating summary: timeout"}`)},
			kind:     ServerError,
			message:  "Error generating summary: timeout",
			retrying: true,
		},
		{
			name:     "no response",
			err:      &NetworkFailure{Err: errors.New("connection refused")},
			kind:     NetworkError,
			message:  MsgNetworkError,
			retrying: true,
		},
		{
			// Auth-looking failures without a response stay network errors.
			name:     "auth text without response",
			err:      errors.New("401 unauthorized"),
			kind:     NetworkError,
			message:  MsgNetworkError,
			retrying: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", got.Kind, tt.kind)
			}
			if got.Message != tt.message {
				t.Errorf("Message = %q, want %q", got.Message, tt.message)
			}
			if got.Kind.ShouldRetry() != tt.retrying {
				t.Errorf("ShouldRetry = %v, want %v", got.Kind.ShouldRetry(), tt.retrying)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("Failure should wrap the original error")
			}
		})
	}
}

func TestFailureKindStrings(t *testing.T) {
	want := map[FailureKind]string{
		AuthRequired:    "auth_required",
		AuthError:       "auth_error",
		ValidationError: "validation_error",
		ServerError:     "server_error",
		NetworkError:    "network_error",
		FailureNone:     "none",
	}
	for kind, s := range want {
		if kind.String() != s {
			t.Errorf("%d.String() = %q, want %q", kind, kind.String(), s)
		}
	}
	if AuthRequired.ShouldRetry() || AuthError.ShouldRetry() {
		t.Error("auth failures must never be retried")
	}
}
