// Package token decodes compact JSON Web Tokens for diagnostics.
//
// Decode performs no signature verification. The result must never be used to make
// an authorization decision; servers verify tokens in internal/access.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nghyane/medistream/internal/json"
	log "github.com/nghyane/medistream/internal/logging"
)

// ErrMalformed is wrapped by every error Decode returns.
var ErrMalformed = errors.New("token: malformed")

// Header is the first segment of a compact token.
type Header struct {
	Alg string
	Typ string
	// Extra holds every key other than alg and typ.
	Extra map[string]any
	// Raw is the full decoded object, numbers kept as json.Number.
	Raw map[string]any
}

// Payload is the claims segment of a compact token.
type Payload struct {
	Sub string
	Iat int64
	Exp int64
	// Extra holds every key other than sub, iat and exp.
	Extra map[string]any
	Raw   map[string]any
}

// Decoded is a structurally decoded token. The signature is not kept.
type Decoded struct {
	Header  Header
	Payload Payload
}

// IssuedAt returns iat as a time, or the zero time when the claim is absent.
func (p Payload) IssuedAt() time.Time {
	return unixTime(p.Iat)
}

// ExpiresAt returns exp as a time, or the zero time when the claim is absent.
func (p Payload) ExpiresAt() time.Time {
	return unixTime(p.Exp)
}

// Expired reports whether exp is set and not after now.
func (p Payload) Expired(now time.Time) bool {
	return p.Exp != 0 && !now.Before(unixTime(p.Exp))
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// Decode splits s into its three segments and decodes the header and payload.
// Any failure yields a nil result and an error wrapping ErrMalformed; the failure is
// also logged at debug level.
func Decode(s string) (decoded *Decoded, err error) {
	defer func() {
		if r := recover(); r != nil {
			decoded, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
		if err != nil {
			log.WithError(err).WithField("length", len(s)).Debug("token: decode failed")
		}
	}()

	segments := strings.Split(s, ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(segments))
	}

	header, err := decodeSegment(segments[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	payload, err := decodeSegment(segments[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}

	return &Decoded{
		Header:  newHeader(header),
		Payload: newPayload(payload),
	}, nil
}

// decodeSegment reverses the base64url alphabet, decodes the standard base64 and
// parses the bytes as a JSON object. Missing padding is accepted.
func decodeSegment(segment string) (map[string]any, error) {
	std := strings.NewReplacer("-", "+", "_", "/").Replace(segment)
	std = strings.TrimRight(std, "=")
	raw, err := base64.RawStdEncoding.DecodeString(std)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}

	var obj map[string]any
	if err = json.UnmarshalNumber(raw, &obj); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	if obj == nil {
		return nil, json.ErrNotObject
	}
	return obj, nil
}

func newHeader(raw map[string]any) Header {
	h := Header{Raw: raw, Extra: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "alg":
			h.Alg, _ = v.(string)
		case "typ":
			h.Typ, _ = v.(string)
		default:
			h.Extra[k] = v
		}
	}
	return h
}

func newPayload(raw map[string]any) Payload {
	p := Payload{Raw: raw, Extra: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "sub":
			p.Sub, _ = v.(string)
		case "iat":
			p.Iat = numericDate(v)
		case "exp":
			p.Exp = numericDate(v)
		default:
			p.Extra[k] = v
		}
	}
	return p
}

// numericDate accepts integer and fractional seconds; anything else reads as 0.
func numericDate(v any) int64 {
	n, ok := v.(json.Number)
	if !ok {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

// Describe returns "sub=<sub> exp=<RFC3339>" for log lines, or "" when s does not
// decode.
func Describe(s string) string {
	d, err := Decode(s)
	if err != nil {
		return ""
	}
	parts := make([]string, 0, 2)
	if d.Payload.Sub != "" {
		parts = append(parts, "sub="+d.Payload.Sub)
	}
	if exp := d.Payload.ExpiresAt(); !exp.IsZero() {
		parts = append(parts, "exp="+exp.Format(time.RFC3339))
	}
	return strings.Join(parts, " ")
}
