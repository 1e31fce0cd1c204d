package upstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	log "github.com/nghyane/medistream/internal/logging"
	"github.com/nghyane/medistream/internal/util"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	streamBufferSize = 1 << 20
	maxErrorBody     = 64 << 10
)

// OpenAI streams chat completions from an OpenAI-compatible endpoint.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAI(baseURL, apiKey, model string, client *http.Client) *OpenAI {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAI{baseURL: strings.TrimSuffix(baseURL, "/"), apiKey: apiKey, model: model, client: client}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) requestBody(p Prompt) ([]byte, error) {
	model := o.model
	if p.Model != "" {
		model = p.Model
	}
	body := []byte(`{"stream":true,"stream_options":{"include_usage":true}}`)
	var err error
	steps := []struct {
		path  string
		value any
	}{
		{"model", model},
		{"messages.0.role", "system"},
		{"messages.0.content", p.System},
		{"messages.1.role", "user"},
		{"messages.1.content", p.User},
	}
	for _, s := range steps {
		if body, err = sjson.SetBytes(body, s.path, s.value); err != nil {
			return nil, fmt.Errorf("openai: build request: %w", err)
		}
	}
	return body, nil
}

func (o *OpenAI) Stream(ctx context.Context, p Prompt) (<-chan Chunk, error) {
	body, err := o.requestBody(p)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	reader, err := util.DecodeResponseBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("openai: decode body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.Errorf("openai: close response body error: %v", errClose)
			}
		}()
		b, _ := util.ReadLimited(reader, maxErrorBody)
		msg := errorMessage(b)
		log.Debugf("openai: error status: %d, body: %s", resp.StatusCode, msg)
		return nil, NewStatusError(resp.StatusCode, msg)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer func() {
			if errClose := reader.Close(); errClose != nil {
				log.Errorf("openai: close response body error: %v", errClose)
			}
		}()
		o.scan(ctx, reader, out)
	}()
	return out, nil
}

func (o *OpenAI) scan(ctx context.Context, r io.Reader, out chan<- Chunk) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), streamBufferSize)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := bytes.TrimSpace(scanner.Bytes())
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)
		if bytes.Equal(data, []byte("[DONE]")) {
			return
		}
		if len(data) == 0 || !gjson.ValidBytes(data) {
			continue
		}

		parsed := gjson.ParseBytes(data)
		if e := parsed.Get("error"); e.Exists() {
			send(ctx, out, Chunk{Err: NewStatusError(http.StatusBadGateway, errorMessage([]byte(e.Raw)))})
			return
		}

		var c Chunk
		if text := parsed.Get("choices.0.delta.content"); text.Type == gjson.String {
			c.Text = text.Str
		}
		if u := parsed.Get("usage"); u.IsObject() {
			c.Usage = &Usage{
				PromptTokens:     u.Get("prompt_tokens").Int(),
				CompletionTokens: u.Get("completion_tokens").Int(),
			}
		}
		if c.Text == "" && c.Usage == nil {
			continue
		}
		if !send(ctx, out, c) {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		send(ctx, out, Chunk{Err: fmt.Errorf("openai: read stream: %w", err)})
	}
}

// errorMessage pulls the human-readable message out of an error payload.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}
	return strings.TrimSpace(string(body))
}
