package util

import (
	"strconv"
	"strings"
)

// ParseGeminiThinkingSuffix splits a thinking suffix off a Gemini model name and
// returns the base model with the thinking budget it selects:
//
//	gemini-2.5-flash-nothinking   budget 0 (128 for 2.5 Pro, which cannot disable thinking)
//	gemini-2.5-flash-reasoning    budget -1, dynamic
//	gemini-2.5-flash-thinking-512 budget 512
//
// ok is false when model carries no recognised suffix.
func ParseGeminiThinkingSuffix(model string) (base string, budget int, ok bool) {
	lower := strings.ToLower(model)
	if !strings.HasPrefix(lower, "gemini-") {
		return model, 0, false
	}

	if strings.HasSuffix(lower, "-nothinking") {
		base = model[:len(model)-len("-nothinking")]
		if strings.HasPrefix(lower, "gemini-2.5-pro") {
			return base, 128, true
		}
		return base, 0, true
	}

	if strings.HasSuffix(lower, "-reasoning") {
		return model[:len(model)-len("-reasoning")], -1, true
	}

	idx := strings.LastIndex(lower, "-thinking-")
	if idx == -1 {
		return model, 0, false
	}
	value, err := strconv.Atoi(model[idx+len("-thinking-"):])
	if err != nil || value < 0 {
		return model, 0, false
	}
	return model[:idx], value, true
}
