package upstream

import "testing"

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		code int
		msg  string
		want ErrorCategory
	}{
		{400, "", CategoryUserError},
		{401, "", CategoryAuthError},
		{403, "", CategoryAuthError},
		{404, "", CategoryNotFound},
		{429, "", CategoryQuotaError},
		{500, "", CategoryTransient},
		{503, "", CategoryTransient},
		{400, "RESOURCE_EXHAUSTED: quota exceeded", CategoryQuotaError},
		{400, "Incorrect API key provided", CategoryAuthError},
		{500, "This model's maximum context length is 8192 tokens", CategoryUserError},
		{200, "", CategoryUnknown},
	}
	for _, tt := range tests {
		if got := CategorizeError(tt.code, tt.msg); got != tt.want {
			t.Errorf("CategorizeError(%d, %q) = %s, want %s", tt.code, tt.msg, got, tt.want)
		}
	}
	if !CategoryTransient.ShouldRetry() || CategoryAuthError.ShouldRetry() {
		t.Error("only transient errors retry")
	}
}

func TestStatusErrorText(t *testing.T) {
	if got := NewStatusError(502, "bad gateway").Error(); got != "upstream status 502: bad gateway" {
		t.Errorf("Error = %q", got)
	}
	if got := NewStatusError(500, "").Error(); got != "upstream status 500" {
		t.Errorf("Error = %q", got)
	}
}
