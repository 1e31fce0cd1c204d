package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	log "github.com/nghyane/medistream/internal/logging"
	"github.com/nghyane/medistream/internal/util"
)

const (
	jwksRefreshInterval = time.Hour
	jwksRefreshLimit    = 5 * time.Minute
	jwksFetchAttempts   = 3
)

// JWKS verifies RS/ES-signed tokens against a remote key set, such as the one an
// identity provider publishes.
type JWKS struct {
	url    string
	issuer string
	keys   *keyfunc.JWKS
}

// NewJWKS fetches the key set at url, retrying transient failures, and keeps it
// refreshed in the background until Close.
func NewJWKS(ctx context.Context, url, issuer string, client *http.Client) (*JWKS, error) {
	if client == nil {
		client = http.DefaultClient
	}
	keys, err := util.WithRetry(ctx, jwksFetchAttempts, "jwks fetch", func(ctx context.Context) (*keyfunc.JWKS, error) {
		return keyfunc.Get(url, keyfunc.Options{
			Client:            client,
			Ctx:               ctx,
			RefreshInterval:   jwksRefreshInterval,
			RefreshRateLimit:  jwksRefreshLimit,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				log.WithError(err).WithField("url", url).Warn("jwks refresh failed")
			},
		})
	})
	if err != nil {
		return nil, err
	}
	log.Infof("jwks loaded from %s (%d keys)", url, len(keys.KIDs()))
	return &JWKS{url: url, issuer: issuer, keys: keys}, nil
}

func (j *JWKS) Identifier() string { return "jwks" }

func (j *JWKS) Verify(_ context.Context, token string) (*Result, error) {
	claims, err := parseClaims(token, j.keys.Keyfunc, j.issuer)
	if err != nil {
		return nil, err
	}
	return &Result{Provider: j.Identifier(), Subject: claims.Subject}, nil
}

// Close stops the background refresh.
func (j *JWKS) Close() { j.keys.EndBackground() }

// HMAC verifies tokens signed with a shared secret.
type HMAC struct {
	secret []byte
	issuer string
}

func NewHMAC(secret []byte, issuer string) *HMAC {
	return &HMAC{secret: secret, issuer: issuer}
}

func (h *HMAC) Identifier() string { return "hmac" }

func (h *HMAC) Verify(_ context.Context, token string) (*Result, error) {
	claims, err := parseClaims(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrNotHandled
		}
		return h.secret, nil
	}, h.issuer)
	if err != nil {
		return nil, err
	}
	return &Result{Provider: h.Identifier(), Subject: claims.Subject}, nil
}

// parseClaims validates signature, exp/nbf/iat, issuer when set, and a non-empty sub.
func parseClaims(token string, kf jwt.Keyfunc, issuer string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, kf)
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) {
			if errors.Is(ve.Inner, ErrNotHandled) {
				return nil, ErrNotHandled
			}
			if ve.Errors&jwt.ValidationErrorMalformed != 0 {
				return nil, ErrNotHandled
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	if issuer != "" && !claims.VerifyIssuer(issuer, true) {
		return nil, fmt.Errorf("%w: issuer %q", ErrInvalidCredential, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidCredential)
	}
	return claims, nil
}
