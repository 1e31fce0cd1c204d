package access

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/nghyane/medistream/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func hmacToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims(sub string) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    "https://issuer.test",
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

func TestHMACVerify(t *testing.T) {
	h := NewHMAC([]byte("s3cret"), "https://issuer.test")

	res, err := h.Verify(context.Background(), hmacToken(t, "s3cret", validClaims("user_1")))
	if err != nil || res.Subject != "user_1" || res.Provider != "hmac" {
		t.Fatalf("Verify = %+v, %v", res, err)
	}

	expired := validClaims("user_1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := validClaims("user_1")
	wrongIssuer.Issuer = "https://other.test"
	noSub := validClaims("")

	rejected := map[string]string{
		"wrong secret": hmacToken(t, "other", validClaims("user_1")),
		"expired":      hmacToken(t, "s3cret", expired),
		"wrong issuer": hmacToken(t, "s3cret", wrongIssuer),
		"missing sub":  hmacToken(t, "s3cret", noSub),
	}
	for name, tok := range rejected {
		if _, err := h.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("%s: err = %v, want ErrInvalidCredential", name, err)
		}
	}

	if _, err := h.Verify(context.Background(), "not-a-jwt"); !errors.Is(err, ErrNotHandled) {
		t.Errorf("opaque token: err = %v, want ErrNotHandled", err)
	}
}

func TestStaticKeys(t *testing.T) {
	s := NewStaticKeys([]string{"", "key-one"})
	res, err := s.Verify(context.Background(), "key-one")
	if err != nil || res.Subject == "" || res.Subject == "key-one" {
		t.Fatalf("Verify = %+v, %v", res, err)
	}
	if _, err := s.Verify(context.Background(), "key-two"); !errors.Is(err, ErrNotHandled) {
		t.Errorf("unknown key: err = %v", err)
	}
}

func TestManagerAuthenticate(t *testing.T) {
	m, err := NewManager(context.Background(), config.AuthConfig{HMACSecret: "s3cret", APIKeys: []string{"k"}}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if _, err := m.Authenticate(context.Background(), ""); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("empty token: %v", err)
	}
	if res, err := m.Authenticate(context.Background(), "k"); err != nil || res.Provider != "api-key" {
		t.Errorf("api key: %+v, %v", res, err)
	}
	if res, err := m.Authenticate(context.Background(), hmacToken(t, "s3cret", validClaims("u1"))); err != nil || res.Subject != "u1" {
		t.Errorf("hmac: %+v, %v", res, err)
	}
	if _, err := m.Authenticate(context.Background(), "garbage"); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("garbage: %v", err)
	}

	if _, err := NewManager(context.Background(), config.AuthConfig{}, nil); err == nil {
		t.Error("a manager without verifiers should fail")
	}
	anon, err := NewManager(context.Background(), config.AuthConfig{Disabled: true}, nil)
	if err != nil {
		t.Fatalf("disabled: %v", err)
	}
	if res, err := anon.Authenticate(context.Background(), ""); err != nil || res.Subject != AnonymousSubject {
		t.Errorf("disabled auth = %+v, %v", res, err)
	}
}

func TestJWKSVerify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	enc := base64.RawURLEncoding
	jwksBody := fmt.Sprintf(`{"keys":[{"kty":"RSA","kid":"k1","alg":"RS256","use":"sig","n":%q,"e":%q}]}`,
		enc.EncodeToString(key.N.Bytes()), enc.EncodeToString(big.NewInt(int64(key.E)).Bytes()))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, jwksBody)
	}))
	defer srv.Close()

	j, err := NewJWKS(context.Background(), srv.URL, "https://issuer.test", srv.Client())
	if err != nil {
		t.Fatalf("NewJWKS: %v", err)
	}
	defer j.Close()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("user_rs"))
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	res, err := j.Verify(context.Background(), signed)
	if err != nil || res.Subject != "user_rs" {
		t.Fatalf("Verify = %+v, %v", res, err)
	}

	if _, err := j.Verify(context.Background(), hmacToken(t, "s", validClaims("x"))); err == nil {
		t.Error("HS256 token must not verify against an RSA key set")
	}
}

func TestExtractBearer(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":     "abc",
		"bearer  abc ":   "abc",
		"Basic dXNlcjpw": "",
		"abc":            "",
		"":               "",
	}
	for in, want := range tests {
		if got := ExtractBearer(in); got != want {
			t.Errorf("ExtractBearer(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	m, err := NewManager(context.Background(), config.AuthConfig{HMACSecret: "s3cret"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := gin.New()
	r.GET("/who", Middleware(m), func(c *gin.Context) {
		c.String(http.StatusOK, Subject(c))
	})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, `{"detail":"Not authenticated"}`},
		{"invalid", "Bearer nope", http.StatusForbidden, `{"detail":"Invalid token"}`},
		{"valid", "Bearer " + hmacToken(t, "s3cret", validClaims("doc_7")), http.StatusOK, "doc_7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status || w.Body.String() != tt.body {
				t.Errorf("got %d %s, want %d %s", w.Code, w.Body.String(), tt.status, tt.body)
			}
		})
	}
}
