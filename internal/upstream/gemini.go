package upstream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"

	"google.golang.org/genai"

	log "github.com/nghyane/medistream/internal/logging"
	"github.com/nghyane/medistream/internal/util"
)

// Gemini streams completions through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, baseURL, apiKey, model string, httpClient *http.Client) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Stream(ctx context.Context, p Prompt) (<-chan Chunk, error) {
	model := g.model
	if p.Model != "" {
		model = p.Model
	}
	contents := []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}
	gc := &genai.GenerateContentConfig{}
	if p.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	if base, budget, ok := util.ParseGeminiThinkingSuffix(model); ok {
		model = base
		gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(budget))}
	}

	next, stop := iter.Pull2(g.client.Models.GenerateContentStream(ctx, model, contents, gc))

	// Surface failures before the first chunk to the caller.
	first, err, ok := next()
	if err != nil {
		stop()
		return nil, geminiError(err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stop()
		resp := first
		for ok {
			if c, has := geminiChunk(resp); has && !send(ctx, out, c) {
				return
			}
			resp, err, ok = next()
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Debug("gemini: stream failed")
					send(ctx, out, Chunk{Err: geminiError(err)})
				}
				return
			}
		}
	}()
	return out, nil
}

func geminiChunk(resp *genai.GenerateContentResponse) (Chunk, bool) {
	if resp == nil {
		return Chunk{}, false
	}
	c := Chunk{Text: resp.Text()}
	if m := resp.UsageMetadata; m != nil {
		c.Usage = &Usage{
			PromptTokens:     int64(m.PromptTokenCount),
			CompletionTokens: int64(m.CandidatesTokenCount),
		}
	}
	return c, c.Text != "" || c.Usage != nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return NewStatusError(apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return NewStatusError(apiErrPtr.Code, apiErrPtr.Message)
	}
	return fmt.Errorf("gemini: %w", err)
}
