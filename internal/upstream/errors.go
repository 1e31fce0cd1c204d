package upstream

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCategory classifies upstream failures for logging and retry decisions.
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	// CategoryUserError covers bad requests the server built from user input.
	CategoryUserError
	// CategoryAuthError means the provider rejected the configured key.
	CategoryAuthError
	// CategoryQuotaError covers rate limits and exhausted quota.
	CategoryQuotaError
	// CategoryTransient covers provider-side failures worth retrying.
	CategoryTransient
	CategoryNotFound
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryUserError:
		return "user_error"
	case CategoryAuthError:
		return "auth_error"
	case CategoryQuotaError:
		return "quota_error"
	case CategoryTransient:
		return "transient"
	case CategoryNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ShouldRetry returns true if error category allows retry
func (c ErrorCategory) ShouldRetry() bool {
	return c == CategoryTransient
}

// CategorizeHTTPStatus determines category from HTTP status code
func CategorizeHTTPStatus(statusCode int) ErrorCategory {
	switch statusCode {
	case http.StatusBadRequest:
		return CategoryUserError
	case http.StatusUnauthorized, http.StatusForbidden:
		return CategoryAuthError
	case http.StatusPaymentRequired, http.StatusTooManyRequests:
		return CategoryQuotaError
	case http.StatusNotFound:
		return CategoryNotFound
	default:
		if statusCode >= 400 && statusCode < 500 {
			return CategoryUserError
		}
		if statusCode >= 500 {
			return CategoryTransient
		}
		return CategoryUnknown
	}
}

// CategorizeError refines the status category with well-known message markers.
func CategorizeError(statusCode int, message string) ErrorCategory {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, "resource_exhausted", "quota", "rate limit", "too many requests"):
		return CategoryQuotaError
	case containsAny(lower, "invalid_api_key", "incorrect api key", "api key not valid"):
		return CategoryAuthError
	case containsAny(lower, "invalid_argument", "context_length_exceeded", "maximum context length"):
		return CategoryUserError
	}
	return CategorizeHTTPStatus(statusCode)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	code     int
	msg      string
	category ErrorCategory
}

func NewStatusError(code int, msg string) StatusError {
	return StatusError{code: code, msg: msg, category: CategorizeError(code, msg)}
}

func (e StatusError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("upstream status %d: %s", e.code, e.msg)
	}
	return fmt.Sprintf("upstream status %d", e.code)
}

func (e StatusError) StatusCode() int { return e.code }

func (e StatusError) Message() string { return e.msg }

func (e StatusError) Category() ErrorCategory { return e.category }
