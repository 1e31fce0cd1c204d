package util

import (
	"strings"
	"sync"

	"google.golang.org/genai"
	"google.golang.org/genai/tokenizer"

	log "github.com/nghyane/medistream/internal/logging"
)

// tokenizerCache caches LocalTokenizer instances by normalized model name.
var (
	tokenizerCache   = make(map[string]*tokenizer.LocalTokenizer)
	tokenizerCacheMu sync.RWMutex
)

// countGeminiPrompt counts messages with Gemini's own tokenizer. The second result is
// false when the tokenizer is unavailable, so the caller can fall back to tiktoken.
// System messages are counted on their own and cached, since the same instructions
// precede every request.
func countGeminiPrompt(model string, messages []PromptMessage) (int64, bool) {
	tok, err := getTokenizer(model)
	if err != nil {
		log.WithError(err).Debugf("gemini tokenizer unavailable for %s", model)
		return 0, false
	}

	var total int64
	contents := make([]*genai.Content, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		if msg.Content == "" {
			continue
		}
		if msg.Role == "system" {
			n, ok := countGeminiCached(tok, msg.Content)
			if !ok {
				return 0, false
			}
			total += n
			continue
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, mapRole(msg.Role)))
	}
	if len(contents) > 0 {
		result, err := tok.CountTokens(contents, nil)
		if err != nil {
			return 0, false
		}
		total += int64(result.TotalTokens)
	}
	return total, true
}

func countGeminiCached(tok *tokenizer.LocalTokenizer, text string) (int64, bool) {
	if cached, ok := PromptTokenCache.Get(text); ok {
		return int64(cached), true
	}
	result, err := tok.CountTokens([]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, nil)
	if err != nil {
		return 0, false
	}
	PromptTokenCache.Set(text, int(result.TotalTokens))
	return int64(result.TotalTokens), true
}

func getTokenizer(model string) (*tokenizer.LocalTokenizer, error) {
	baseModel := normalizeModel(model)

	tokenizerCacheMu.RLock()
	tok, ok := tokenizerCache[baseModel]
	tokenizerCacheMu.RUnlock()
	if ok {
		return tok, nil
	}

	tokenizerCacheMu.Lock()
	defer tokenizerCacheMu.Unlock()

	if tok, ok := tokenizerCache[baseModel]; ok {
		return tok, nil
	}

	tok, err := tokenizer.NewLocalTokenizer(baseModel)
	if err != nil {
		return nil, err
	}
	tokenizerCache[baseModel] = tok
	return tok, nil
}

// normalizeModel maps a configured model name to one the local tokenizer knows.
func normalizeModel(model string) string {
	model = strings.ToLower(model)
	switch {
	case strings.Contains(model, "gemini-2.5-flash-lite"):
		return "gemini-2.5-flash-lite"
	case strings.Contains(model, "gemini-2.5-flash"):
		return "gemini-2.5-flash"
	case strings.Contains(model, "gemini-2.5-pro"):
		return "gemini-2.5-pro"
	case strings.Contains(model, "gemini-2.0-flash-lite"):
		return "gemini-2.0-flash-lite"
	case strings.Contains(model, "gemini-2.0"):
		return "gemini-2.0-flash"
	case strings.Contains(model, "gemini-1.5-pro"):
		return "gemini-1.5-pro"
	case strings.Contains(model, "gemini-1.5"):
		return "gemini-1.5-flash"
	default:
		return "gemini-2.5-flash"
	}
}

func isGeminiModel(model string) bool {
	model = strings.ToLower(model)
	for _, pattern := range []string{"gpt", "claude", "o1", "o3", "o4", "embedding"} {
		if strings.Contains(model, pattern) {
			return false
		}
	}
	return strings.Contains(model, "gemini") || strings.Contains(model, "gemma")
}

func mapRole(role string) genai.Role {
	if role == "assistant" || role == "model" {
		return genai.RoleModel
	}
	return genai.RoleUser
}
