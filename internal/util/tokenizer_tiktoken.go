package util

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	tiktokenCache   = make(map[tokenizer.Encoding]tokenizer.Codec)
	tiktokenCacheMu sync.RWMutex
)

var (
	roleTokenCache   = make(map[string]int64)
	roleTokenCacheMu sync.RWMutex
)

// TokenEstimationThreshold is the text length above which counting switches from
// the tokenizer to a character-ratio estimate.
const TokenEstimationThreshold = 100_000

// PromptMessage is one chat message as counted for the prompt-size guard.
type PromptMessage struct {
	Role    string
	Content string
}

// CountPromptTokens returns the token count of messages for model. Gemini models use
// Gemini's local tokenizer; everything else, and Gemini when its tokenizer cannot be
// loaded, uses tiktoken including the per-message framing of the chat format. It
// returns 0 when no encoding can be loaded, which callers treat as "unknown" and let
// through.
func CountPromptTokens(model string, messages ...PromptMessage) int64 {
	if len(messages) == 0 {
		return 0
	}
	if isGeminiModel(model) {
		if n, ok := countGeminiPrompt(model, messages); ok {
			return n
		}
	}
	enc, err := getTiktokenCodec(getTiktokenEncodingName(model))
	if err != nil {
		return 0
	}

	const (
		tokensPerMessage int64 = 3
		replyPriming     int64 = 3
	)
	total := replyPriming
	for i := range messages {
		msg := &messages[i]
		total += tokensPerMessage
		total += countRoleTokens(enc, msg.Role)
		if msg.Content == "" {
			continue
		}
		if len(msg.Content) > TokenEstimationThreshold {
			total += estimateTokens(msg.Content)
			continue
		}
		total += countTokensWithCache(enc, msg.Content, PromptTokenCache)
	}
	return total
}

// CountTextTokens counts s alone, without chat framing.
func CountTextTokens(model, s string) int64 {
	if s == "" {
		return 0
	}
	enc, err := getTiktokenCodec(getTiktokenEncodingName(model))
	if err != nil {
		return estimateTokens(s)
	}
	return countTokens(enc, s)
}

// estimateTokens approximates a token count from length using content-aware divisors:
// JSON 4.0, code 4.2, plain text 3.5 characters per token.
func estimateTokens(s string) int64 {
	return int64(float64(len(s)) / detectContentDivisor(s))
}

// detectContentDivisor samples the first 1KB only.
func detectContentDivisor(s string) float64 {
	sample := s
	if len(s) > 1024 {
		sample = s[:1024]
	}
	if isLikelyJSON(sample) {
		return 4.0
	}
	if isLikelyCode(sample) {
		return 4.2
	}
	return 3.5
}

func isLikelyJSON(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	return (s[0] == '{' || s[0] == '[') && strings.ContainsAny(s[:min(len(s), 100)], "\":,")
}

func isLikelyCode(s string) bool {
	for _, indicator := range []string{
		"func ", "function ", "def ", "class ", "import ", "package ",
		"{\n", "}\n", "();", "=>", "#include",
	} {
		if strings.Contains(s, indicator) {
			return true
		}
	}
	return false
}

func countTokens(enc tokenizer.Codec, s string) int64 {
	if len(s) > TokenEstimationThreshold {
		return estimateTokens(s)
	}
	ids, _, _ := enc.Encode(s)
	return int64(len(ids))
}

func countTokensWithCache(enc tokenizer.Codec, s string, cache *TokenCache) int64 {
	if cached, ok := cache.Get(s); ok {
		return int64(cached)
	}
	tokens := countTokens(enc, s)
	cache.Set(s, int(tokens))
	return tokens
}

func countRoleTokens(enc tokenizer.Codec, role string) int64 {
	roleTokenCacheMu.RLock()
	count, ok := roleTokenCache[role]
	roleTokenCacheMu.RUnlock()
	if ok {
		return count
	}

	ids, _, _ := enc.Encode(role)
	count = int64(len(ids))

	roleTokenCacheMu.Lock()
	roleTokenCache[role] = count
	roleTokenCacheMu.Unlock()

	return count
}

func getTiktokenCodec(encoding tokenizer.Encoding) (tokenizer.Codec, error) {
	tiktokenCacheMu.RLock()
	codec, ok := tiktokenCache[encoding]
	tiktokenCacheMu.RUnlock()
	if ok {
		return codec, nil
	}

	tiktokenCacheMu.Lock()
	defer tiktokenCacheMu.Unlock()

	if codec, ok := tiktokenCache[encoding]; ok {
		return codec, nil
	}

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}

	tiktokenCache[encoding] = codec
	return codec, nil
}

func getTiktokenEncodingName(model string) tokenizer.Encoding {
	lower := strings.ToLower(model)

	switch {
	case strings.Contains(lower, "gpt-5"),
		strings.Contains(lower, "gpt-4o"),
		strings.Contains(lower, "gpt-4.1"),
		strings.Contains(lower, "o1"),
		strings.Contains(lower, "o3"),
		strings.Contains(lower, "gemini"):
		return tokenizer.O200kBase

	case strings.Contains(lower, "gpt-4"),
		strings.Contains(lower, "gpt-3.5"),
		strings.Contains(lower, "turbo"):
		return tokenizer.Cl100kBase

	default:
		return tokenizer.O200kBase
	}
}
