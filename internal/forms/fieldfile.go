package forms

import (
	"fmt"
	"os"
	"strings"

	"github.com/tailscale/hujson"
	"github.com/tidwall/gjson"
)

// LoadFields reads a JSON or JSONC object (comments and trailing commas allowed)
// from path. String values are kept as-is; other scalars keep their JSON text.
func LoadFields(path string) ([]Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("forms: read %s: %w", path, err)
	}
	return ParseFieldsJSON(data)
}

// ParseFieldsJSON is LoadFields for in-memory data.
func ParseFieldsJSON(data []byte) ([]Field, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("forms: parse fields: %w", err)
	}
	root := gjson.ParseBytes(std)
	if !root.IsObject() {
		return nil, fmt.Errorf("forms: fields must be a JSON object")
	}

	var fields []Field
	var badKey string
	root.ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.String:
			fields = append(fields, Field{Name: key.Str, Value: value.Str})
		case gjson.Number, gjson.True, gjson.False:
			fields = append(fields, Field{Name: key.Str, Value: value.Raw})
		case gjson.Null:
			fields = append(fields, Field{Name: key.Str})
		default:
			badKey = key.Str
			return false
		}
		return true
	})
	if badKey != "" {
		return nil, fmt.Errorf("forms: field %q must be a scalar", badKey)
	}
	return fields, nil
}

// ParseAssignments parses name=value pairs such as command-line arguments.
func ParseAssignments(pairs []string) ([]Field, error) {
	fields := make([]Field, 0, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("forms: expected name=value, got %q", pair)
		}
		fields = append(fields, Field{Name: name, Value: value})
	}
	return fields, nil
}

// Merge overlays later fields on earlier ones by name, keeping first-seen order.
func Merge(groups ...[]Field) []Field {
	index := make(map[string]int)
	var out []Field
	for _, group := range groups {
		for _, f := range group {
			if i, ok := index[f.Name]; ok {
				out[i].Value = f.Value
				continue
			}
			index[f.Name] = len(out)
			out = append(out, f)
		}
	}
	return out
}
