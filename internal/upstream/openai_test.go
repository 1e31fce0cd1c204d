package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func collect(t *testing.T, ch <-chan Chunk) (string, *Usage, error) {
	t.Helper()
	var b strings.Builder
	var usage *Usage
	for c := range ch {
		if c.Err != nil {
			return b.String(), usage, c.Err
		}
		b.WriteString(c.Text)
		if c.Usage != nil {
			usage = c.Usage
		}
	}
	return b.String(), usage, nil
}

func TestOpenAIStream(t *testing.T) {
	var body []byte
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ = io.ReadAll(r.Body)
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"### Summary\\n\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Cough.\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":3}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL+"/v1/", "sk-test", "gpt-5-nano", srv.Client())
	ch, err := o.Stream(context.Background(), Prompt{System: "sys", User: "hello"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, usage, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text != "### Summary\nCough." {
		t.Errorf("text = %q", text)
	}
	if usage == nil || usage.PromptTokens != 12 || usage.CompletionTokens != 3 {
		t.Errorf("usage = %+v", usage)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("auth = %q", auth)
	}
	parsed := gjson.ParseBytes(body)
	if parsed.Get("model").Str != "gpt-5-nano" || !parsed.Get("stream").Bool() {
		t.Errorf("body = %s", body)
	}
	if parsed.Get("messages.0.role").Str != "system" || parsed.Get("messages.1.content").Str != "hello" {
		t.Errorf("messages = %s", parsed.Get("messages").Raw)
	}
}

func TestOpenAIModelOverride(t *testing.T) {
	o := NewOpenAI("", "", "default-model", nil)
	body, err := o.requestBody(Prompt{User: "u", Model: "other"})
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(body, "model").Str; got != "other" {
		t.Errorf("model = %q", got)
	}
	if o.baseURL != DefaultOpenAIBaseURL {
		t.Errorf("baseURL = %q", o.baseURL)
	}
}

func TestOpenAIStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"requests"}}`)
	}))
	defer srv.Close()

	_, err := NewOpenAI(srv.URL, "k", "m", srv.Client()).Stream(context.Background(), Prompt{User: "x"})
	var se StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.StatusCode() != 429 || se.Message() != "Rate limit reached" || se.Category() != CategoryQuotaError {
		t.Errorf("status error = %d %q %s", se.StatusCode(), se.Message(), se.Category())
	}
}

func TestOpenAIErrorMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"part\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"overloaded\"}}\n\n")
	}))
	defer srv.Close()

	ch, err := NewOpenAI(srv.URL, "k", "m", srv.Client()).Stream(context.Background(), Prompt{User: "x"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, _, err := collect(t, ch)
	if text != "part" {
		t.Errorf("text = %q", text)
	}
	var se StatusError
	if !errors.As(err, &se) || se.Message() != "overloaded" {
		t.Errorf("err = %v", err)
	}
}

func TestOpenAICancelClosesChannel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewOpenAI(srv.URL, "k", "m", srv.Client()).Stream(ctx, Prompt{User: "x"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if c := <-ch; c.Text != "a" {
		t.Fatalf("first chunk = %+v", c)
	}
	cancel()
	for range ch {
	}
}
