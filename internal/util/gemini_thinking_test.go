package util

import "testing"

func TestParseGeminiThinkingSuffix(t *testing.T) {
	cases := []struct {
		model  string
		base   string
		budget int
		ok     bool
	}{
		{"gemini-2.5-flash-nothinking", "gemini-2.5-flash", 0, true},
		{"gemini-2.5-pro-nothinking", "gemini-2.5-pro", 128, true},
		{"gemini-2.5-flash-reasoning", "gemini-2.5-flash", -1, true},
		{"gemini-2.5-flash-thinking-512", "gemini-2.5-flash", 512, true},
		{"gemini-2.5-flash-thinking-abc", "gemini-2.5-flash-thinking-abc", 0, false},
		{"gemini-2.5-flash", "gemini-2.5-flash", 0, false},
		{"gpt-5-nano-nothinking", "gpt-5-nano-nothinking", 0, false},
	}
	for _, tc := range cases {
		base, budget, ok := ParseGeminiThinkingSuffix(tc.model)
		if base != tc.base || budget != tc.budget || ok != tc.ok {
			t.Errorf("ParseGeminiThinkingSuffix(%q) = %q, %d, %t; want %q, %d, %t",
				tc.model, base, budget, ok, tc.base, tc.budget, tc.ok)
		}
	}
}
