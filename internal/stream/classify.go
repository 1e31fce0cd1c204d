package stream

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// User-visible failure messages.
const (
	MsgAuthRequired = "Authentication required"
	MsgAuthError    = "Your session is no longer valid. Please sign in again."
	MsgServerError  = "Server error"
	MsgNetworkError = "Network error: the server could not be reached"

	missingFieldsPrefix = "Please fill in: "
)

// Classify maps a transport error to a Failure.
//
// Only an actual response can produce AuthError: rejections without a response are
// NetworkError even when they look auth-related.
func Classify(err error) *Failure {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == http.StatusUnauthorized || respErr.StatusCode == http.StatusForbidden {
			return &Failure{Kind: AuthError, Message: MsgAuthError, Err: err}
		}
		return classifyBody(respErr.Body, err)
	}
	var eventErr *ErrorEvent
	if errors.As(err, &eventErr) {
		return classifyBody(eventErr.Data, err)
	}
	return &Failure{Kind: NetworkError, Message: MsgNetworkError, Err: err}
}

// classifyBody reads a JSON error body. Recognised shapes, in order:
//
//	{"missing_fields": ["a", "b"]}
//	{"detail": [{"loc": ["body", "a"], "type": "missing"}]}
//	{"message": "..."} / {"detail": "..."} / {"error": "..."} / {"error": {"message": "..."}}
func classifyBody(body []byte, err error) *Failure {
	if !gjson.ValidBytes(body) {
		return &Failure{Kind: ServerError, Message: MsgServerError, Err: err}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return &Failure{Kind: ServerError, Message: MsgServerError, Err: err}
	}

	if fields := stringArray(root.Get("missing_fields")); len(fields) > 0 {
		return &Failure{Kind: ValidationError, Message: MissingFieldsMessage(fields), Err: err}
	}
	if fields := validationLocations(root.Get("detail")); len(fields) > 0 {
		return &Failure{Kind: ValidationError, Message: MissingFieldsMessage(fields), Err: err}
	}

	for _, path := range []string{"message", "detail", "error.message", "error"} {
		if v := root.Get(path); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			return &Failure{Kind: ServerError, Message: v.Str, Err: err}
		}
	}
	return &Failure{Kind: ServerError, Message: MsgServerError, Err: err}
}

// MissingFieldsMessage renders the validation message shown for missing inputs.
func MissingFieldsMessage(fields []string) string {
	return missingFieldsPrefix + strings.Join(fields, ", ")
}

func stringArray(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	var out []string
	v.ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String && item.Str != "" {
			out = append(out, item.Str)
		}
		return true
	})
	return out
}

// validationLocations extracts field names from a list of validation errors whose
// loc path ends with the field name.
func validationLocations(detail gjson.Result) []string {
	if !detail.IsArray() {
		return nil
	}
	var out []string
	detail.ForEach(func(_, item gjson.Result) bool {
		loc := item.Get("loc")
		if !loc.IsArray() {
			return true
		}
		parts := loc.Array()
		if len(parts) == 0 {
			return true
		}
		if last := parts[len(parts)-1]; last.Type == gjson.String && last.Str != "" {
			out = append(out, last.Str)
		}
		return true
	})
	return out
}
