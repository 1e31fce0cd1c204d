// Package access verifies the bearer credentials presented to the server.
package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/nghyane/medistream/internal/config"
	log "github.com/nghyane/medistream/internal/logging"
)

var (
	// ErrNoCredentials means the request carried no bearer token.
	ErrNoCredentials = errors.New("access: no credentials")
	// ErrInvalidCredential means a token was presented and rejected.
	ErrInvalidCredential = errors.New("access: invalid credential")
	// ErrNotHandled lets a verifier pass a token on to the next one.
	ErrNotHandled = errors.New("access: not handled")
)

// AnonymousSubject is the subject recorded when authentication is disabled.
const AnonymousSubject = "anonymous"

// Result describes an accepted credential.
type Result struct {
	Provider string
	Subject  string
}

// Verifier checks one kind of bearer token.
type Verifier interface {
	Identifier() string
	Verify(ctx context.Context, token string) (*Result, error)
}

// Manager runs the configured verifiers in order.
type Manager struct {
	mu        sync.RWMutex
	verifiers []Verifier
	disabled  bool
	closers   []func()
}

// NewManager builds the verifiers described by cfg.
func NewManager(ctx context.Context, cfg config.AuthConfig, client *http.Client) (*Manager, error) {
	m := &Manager{}
	if err := m.Apply(ctx, cfg, client); err != nil {
		return nil, err
	}
	return m, nil
}

// Apply replaces the verifier set. On error the previous set stays active.
func (m *Manager) Apply(ctx context.Context, cfg config.AuthConfig, client *http.Client) error {
	var verifiers []Verifier
	var closers []func()

	if len(cfg.APIKeys) > 0 {
		verifiers = append(verifiers, NewStaticKeys(cfg.APIKeys))
	}
	if cfg.HMACSecret != "" {
		verifiers = append(verifiers, NewHMAC([]byte(cfg.HMACSecret), cfg.Issuer))
	}
	if cfg.JWKSURL != "" {
		jwks, err := NewJWKS(ctx, cfg.JWKSURL, cfg.Issuer, client)
		if err != nil {
			return fmt.Errorf("access: %w", err)
		}
		verifiers = append(verifiers, jwks)
		closers = append(closers, jwks.Close)
	}
	if len(verifiers) == 0 && !cfg.Disabled {
		return fmt.Errorf("access: no verifier configured")
	}
	if cfg.Disabled {
		log.Warn("access: authentication disabled, every request is anonymous")
	}

	m.mu.Lock()
	old := m.closers
	m.verifiers, m.closers, m.disabled = verifiers, closers, cfg.Disabled
	m.mu.Unlock()
	for _, c := range old {
		c()
	}
	return nil
}

// Authenticate verifies token with the first verifier that handles it.
func (m *Manager) Authenticate(ctx context.Context, token string) (*Result, error) {
	m.mu.RLock()
	verifiers, disabled := m.verifiers, m.disabled
	m.mu.RUnlock()

	if disabled {
		return &Result{Provider: "disabled", Subject: AnonymousSubject}, nil
	}
	if token == "" {
		return nil, ErrNoCredentials
	}

	var lastErr error
	for _, v := range verifiers {
		res, err := v.Verify(ctx, token)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrNotHandled) {
			continue
		}
		log.WithError(err).WithField("verifier", v.Identifier()).Debug("access: token rejected")
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrInvalidCredential
	}
	if !errors.Is(lastErr, ErrInvalidCredential) {
		lastErr = fmt.Errorf("%w: %v", ErrInvalidCredential, lastErr)
	}
	return nil, lastErr
}

// Close stops background key refreshes.
func (m *Manager) Close() {
	m.mu.Lock()
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()
	for _, c := range closers {
		c()
	}
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>" header, or ""
// for any other scheme.
func ExtractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
