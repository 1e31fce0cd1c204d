// Package credential supplies bearer credentials to the streaming client.
//
// A Source answers "what token do I send right now". Absent or expired sessions are
// reported as ErrNoCredential so callers can tell "sign in first" apart from a
// failure to reach the identity provider.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// ErrNoCredential means no usable credential exists.
var ErrNoCredential = errors.New("credential: none available")

// Source returns an opaque bearer credential.
type Source interface {
	Credential(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (string, error)

func (f SourceFunc) Credential(ctx context.Context) (string, error) { return f(ctx) }

// Static always returns the same value. An empty value is absent.
type Static string

func (s Static) Credential(context.Context) (string, error) {
	if v := strings.TrimSpace(string(s)); v != "" {
		return v, nil
	}
	return "", ErrNoCredential
}

// Env reads the named environment variable on every call, so a token rotated by an
// outside process is picked up without restarting.
type Env string

func (e Env) Credential(context.Context) (string, error) {
	if e == "" {
		return "", ErrNoCredential
	}
	if v := strings.TrimSpace(os.Getenv(string(e))); v != "" {
		return v, nil
	}
	return "", ErrNoCredential
}

// OAuth2 adapts an oauth2.TokenSource. Invalid tokens and token-endpoint rejections
// are reported as ErrNoCredential; transport failures are returned as-is.
type OAuth2 struct {
	TokenSource oauth2.TokenSource
}

func (o OAuth2) Credential(ctx context.Context) (string, error) {
	if o.TokenSource == nil {
		return "", ErrNoCredential
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := o.TokenSource.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", fmt.Errorf("%w: %s", ErrNoCredential, retrieveErr.ErrorCode)
		}
		return "", fmt.Errorf("credential: oauth2 token: %w", err)
	}
	if !tok.Valid() {
		return "", ErrNoCredential
	}
	return tok.AccessToken, nil
}

// Chain tries each source in order and returns the first credential. It returns
// ErrNoCredential only when every source reports absence.
type Chain []Source

func (c Chain) Credential(ctx context.Context) (string, error) {
	var firstErr error
	for _, src := range c {
		cred, err := src.Credential(ctx)
		if err == nil && cred != "" {
			return cred, nil
		}
		if err != nil && !errors.Is(err, ErrNoCredential) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return "", firstErr
	}
	return "", ErrNoCredential
}
