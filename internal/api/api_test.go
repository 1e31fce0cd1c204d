package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/nghyane/medistream/internal/access"
	"github.com/nghyane/medistream/internal/config"
	"github.com/nghyane/medistream/internal/stream"
	"github.com/nghyane/medistream/internal/upstream"
	"github.com/nghyane/medistream/internal/usage"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCompleter struct {
	mu      sync.Mutex
	chunks  []upstream.Chunk
	err     error
	prompts []upstream.Prompt
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Stream(_ context.Context, p upstream.Prompt) (<-chan upstream.Chunk, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan upstream.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeCompleter) lastPrompt() upstream.Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[len(f.prompts)-1]
}

func newTestServer(t *testing.T, completer upstream.Completer, persister *usage.Persister, mutate ...func(*config.Config)) *Server {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Debug = true
	cfg.Auth.HMACSecret = testSecret
	for _, m := range mutate {
		m(cfg)
	}
	am, err := access.NewManager(context.Background(), cfg.Auth, nil)
	if err != nil {
		t.Fatalf("access manager: %v", err)
	}
	return NewServer(cfg, completer, am, persister, WithPingInterval(0))
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: sub, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + s
}

func do(t *testing.T, s *Server, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// reassemble parses an SSE body the way the client does.
func reassemble(t *testing.T, body string) (text string, ids []string, errorEvents []string) {
	t.Helper()
	p := stream.NewParser(strings.NewReader(body))
	var b strings.Builder
	for {
		msg, err := p.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), ids, errorEvents
		}
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if msg.Event == "error" {
			errorEvents = append(errorEvents, msg.Data)
			continue
		}
		b.WriteString(msg.Data)
		ids = append(ids, msg.ID)
	}
}

const validVisit = `{"patient_name":" Ada ","date_of_visit":"2024-05-01","notes":"Persistent cough"}`

func TestConsultationStreams(t *testing.T) {
	fc := &fakeCompleter{chunks: []upstream.Chunk{
		{Text: "### Summary of visit for the doctor's records\n"},
		{Text: "Cough for two weeks.\n\n### Next"},
		{Text: " steps\r\n- rest"},
		{Usage: &upstream.Usage{PromptTokens: 90, CompletionTokens: 30}},
	}}
	s := newTestServer(t, fc, nil)

	for _, path := range []string{"/api", "/api/consultation"} {
		w := do(t, s, http.MethodPost, path, bearer(t, "user_1"), validVisit)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d: %s", path, w.Code, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
			t.Errorf("content type = %q", ct)
		}
		text, ids, errs := reassemble(t, w.Body.String())
		want := "### Summary of visit for the doctor's records\nCough for two weeks.\n\n### Next steps\n- rest"
		if text != want {
			t.Errorf("%s: text = %q\nwant %q", path, text, want)
		}
		if strings.Join(ids, ",") != "1,2,3" || len(errs) != 0 {
			t.Errorf("%s: ids = %v errors = %v", path, ids, errs)
		}
	}

	p := fc.lastPrompt()
	if !strings.Contains(p.User, "Patient Name: Ada\n") || !strings.Contains(p.System, "### Next steps for the doctor") {
		t.Errorf("prompt = %+v", p)
	}
}

func TestConsultationMissingFields(t *testing.T) {
	s := newTestServer(t, &fakeCompleter{}, nil)
	w := do(t, s, http.MethodPost, "/api", bearer(t, "u"), `{"patient_name":"Ada","date_of_visit":"  ","notes":""}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != `{"missing_fields":["date_of_visit","notes"]}` {
		t.Errorf("body = %s", got)
	}

	w = do(t, s, http.MethodPost, "/api", bearer(t, "u"), `{"patient_name":5}`)
	if w.Code != http.StatusUnprocessableEntity || !strings.Contains(w.Body.String(), "detail") {
		t.Errorf("wrong types: %d %s", w.Code, w.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, &fakeCompleter{}, nil)
	if w := do(t, s, http.MethodGet, "/api/idea", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/idea", "Bearer forged", ""); w.Code != http.StatusForbidden {
		t.Errorf("bad token: %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Errorf("healthz: %d", w.Code)
	}
}

func TestUpstreamFailureBeforeStream(t *testing.T) {
	s := newTestServer(t, &fakeCompleter{err: upstream.NewStatusError(503, "overloaded")}, nil)
	w := do(t, s, http.MethodPost, "/api", bearer(t, "u"), validVisit)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != `{"detail":"Error generating summary: upstream status 503: overloaded"}` {
		t.Errorf("body = %s", got)
	}

	first := newTestServer(t, &fakeCompleter{chunks: []upstream.Chunk{{Err: errors.New("boom")}}}, nil)
	if w := do(t, first, http.MethodGet, "/api/idea", bearer(t, "u"), ""); w.Code != http.StatusInternalServerError {
		t.Errorf("error as first chunk: status = %d", w.Code)
	}
}

func TestUpstreamFailureMidStream(t *testing.T) {
	fc := &fakeCompleter{chunks: []upstream.Chunk{{Text: "partial"}, {Err: errors.New("connection reset")}}}
	s := newTestServer(t, fc, nil)
	w := do(t, s, http.MethodGet, "/api/idea", bearer(t, "u"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	text, _, errs := reassemble(t, w.Body.String())
	if text != "partial" || len(errs) != 1 || errs[0] != `{"detail":"Error generating idea: connection reset"}` {
		t.Errorf("text = %q errors = %q", text, errs)
	}
	f := stream.Classify(&stream.ErrorEvent{Data: []byte(errs[0])})
	if f.Kind != stream.ServerError || f.Message != "Error generating idea: connection reset" {
		t.Errorf("client classification = %+v", f)
	}
}

func TestPromptTokenLimit(t *testing.T) {
	s := newTestServer(t, &fakeCompleter{}, nil, func(c *config.Config) { c.Limits.MaxPromptTokens = 10 })
	w := do(t, s, http.MethodPost, "/api", bearer(t, "u"), validVisit)
	if w.Code != http.StatusRequestEntityTooLarge || !strings.Contains(w.Body.String(), "Notes are too long") || !strings.Contains(w.Body.String(), "limit is 10") {
		t.Errorf("got %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, http.MethodGet, "/api/idea", bearer(t, "u"), "")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("idea status = %d", w.Code)
	}
	if body := w.Body.String(); strings.Contains(body, "Notes") || !strings.Contains(body, "Prompt is too long") {
		t.Errorf("idea body = %s", body)
	}
}

func TestUsageRecorded(t *testing.T) {
	p, err := usage.NewPersister(filepath.Join(t.TempDir(), "usage.db"), 10, 60, 30)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	fc := &fakeCompleter{chunks: []upstream.Chunk{{Text: "héllo"}, {Usage: &upstream.Usage{PromptTokens: 42, CompletionTokens: 2}}}}
	s := newTestServer(t, fc, p)
	if w := do(t, s, http.MethodGet, "/api/idea", bearer(t, "user_9"), ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	w := do(t, s, http.MethodGet, "/api/usage", bearer(t, "user_9"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("usage status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`"requests":1`, `"output_chars":5`, `"prompt_tokens":42`, `"output_tokens":2`, `"subject":"user_9"`} {
		if !strings.Contains(body, want) {
			t.Errorf("usage body %s missing %s", body, want)
		}
	}
}

func TestUpdateConfigSwapsCompleter(t *testing.T) {
	s := newTestServer(t, &fakeCompleter{chunks: []upstream.Chunk{{Text: "old"}}}, nil)
	cfg := config.NewDefaultConfig()
	cfg.Debug = true
	cfg.Prompts.Idea = "You are terse."
	next := &fakeCompleter{chunks: []upstream.Chunk{{Text: "new"}}}
	s.UpdateConfig(cfg, next)

	w := do(t, s, http.MethodGet, "/api/idea", bearer(t, "u"), "")
	if text, _, _ := reassemble(t, w.Body.String()); text != "new" {
		t.Errorf("text = %q", text)
	}
	if got := next.lastPrompt().System; got != "You are terse." {
		t.Errorf("system prompt = %q", got)
	}
}

func TestKeepAliveTimeout(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Auth.Disabled = true
	am, err := access.NewManager(context.Background(), cfg.Auth, nil)
	if err != nil {
		t.Fatal(err)
	}
	fired := make(chan struct{})
	s := NewServer(cfg, &fakeCompleter{}, am, nil, WithKeepAliveEndpoint(50*time.Millisecond, func() { close(fired) }))

	for i := 0; i < 3; i++ {
		if w := do(t, s, http.MethodGet, "/keep-alive", "", ""); w.Code != http.StatusOK {
			t.Fatalf("keep-alive: %d", w.Code)
		}
		time.Sleep(20 * time.Millisecond)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("keep-alive timeout did not fire")
	}
}

func TestSSEWriterFraming(t *testing.T) {
	var b strings.Builder
	w := newSSEWriter(&b)
	_ = w.Message("a\n\nb")
	_ = w.Message(" lead")
	_ = w.Comment("ping")
	want := "id: 1\ndata: a\ndata: \ndata: b\n\nid: 2\ndata:  lead\n\n: ping\n\n"
	if b.String() != want {
		t.Errorf("frames = %q\nwant     %q", b.String(), want)
	}
	text, _, _ := reassemble(t, b.String())
	if text != "a\n\nb lead" {
		t.Errorf("reassembled = %q", text)
	}
}
