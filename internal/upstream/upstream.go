// Package upstream streams completions from the LLM provider the server is
// configured with.
package upstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nghyane/medistream/internal/config"
	"github.com/nghyane/medistream/internal/util"
)

// Prompt is the system/user message pair sent upstream.
type Prompt struct {
	System string
	User   string
	// Model overrides the configured model when set.
	Model string
}

// Usage is the token accounting reported by the provider, when it reports any.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// Chunk is one piece of streamed output. A chunk with Err set is the last one.
type Chunk struct {
	Text  string
	Usage *Usage
	Err   error
}

// Completer streams a completion. Errors that happen before the first chunk are
// returned directly; later ones arrive as a final Chunk with Err set. The channel
// is closed when the stream ends or ctx is done.
type Completer interface {
	Stream(ctx context.Context, p Prompt) (<-chan Chunk, error)
	// Name identifies the provider in logs and usage records.
	Name() string
}

// New builds the completer selected by cfg.Upstream.Provider.
func New(ctx context.Context, cfg *config.Config) (Completer, error) {
	up := cfg.Upstream
	timeout := time.Duration(up.TimeoutSeconds) * time.Second
	client := util.NewHTTPClient(cfg.ProxyURL, timeout)

	switch strings.ToLower(strings.TrimSpace(up.Provider)) {
	case "", config.ProviderOpenAI:
		return NewOpenAI(up.BaseURL, up.APIKey, up.Model, client), nil
	case config.ProviderGemini:
		return NewGemini(ctx, up.BaseURL, up.APIKey, up.Model, client)
	default:
		return nil, fmt.Errorf("upstream: unknown provider %q", up.Provider)
	}
}

// send delivers c unless ctx is done first.
func send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
