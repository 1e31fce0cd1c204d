package token

import (
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nghyane/medistream/internal/json"
)

func segment(t *testing.T, obj string) string {
	t.Helper()
	return base64.RawURLEncoding.EncodeToString([]byte(obj))
}

func compact(t *testing.T, header, payload string) string {
	t.Helper()
	return segment(t, header) + "." + segment(t, payload) + ".sig"
}

func expectObject(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.UnmarshalNumber([]byte(raw), &out); err != nil {
		t.Fatalf("fixture %q: %v", raw, err)
	}
	return out
}

func TestDecodeExample(t *testing.T) {
	header := `{"alg":"HS256","typ":"JWT"}`
	payload := `{"sub":"u1","iat":1000,"exp":2000}`

	got, err := Decode(compact(t, header, payload))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Header.Alg != "HS256" || got.Header.Typ != "JWT" {
		t.Errorf("header = %+v", got.Header)
	}
	if got.Payload.Sub != "u1" || got.Payload.Iat != 1000 || got.Payload.Exp != 2000 {
		t.Errorf("payload = %+v", got.Payload)
	}
	if !reflect.DeepEqual(got.Header.Raw, expectObject(t, header)) {
		t.Errorf("header raw = %v", got.Header.Raw)
	}
	if !reflect.DeepEqual(got.Payload.Raw, expectObject(t, payload)) {
		t.Errorf("payload raw = %v", got.Payload.Raw)
	}
	if len(got.Header.Extra) != 0 || len(got.Payload.Extra) != 0 {
		t.Errorf("unexpected extras: %v %v", got.Header.Extra, got.Payload.Extra)
	}
}

func TestDecodeRejectsSegmentCount(t *testing.T) {
	valid := segment(t, `{"alg":"none"}`)
	cases := []string{
		"",
		"abc",
		valid,
		valid + "." + valid,
		valid + "." + valid + ".sig.extra",
		"...",
	}
	for _, tc := range cases {
		got, err := Decode(tc)
		if got != nil {
			t.Errorf("Decode(%q) = %+v, want nil", tc, got)
		}
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformed", tc, err)
		}
	}
}

func TestDecodeRejectsBadSegments(t *testing.T) {
	good := segment(t, `{"sub":"u1"}`)
	cases := map[string]string{
		"invalid base64":      "!!!!." + good + ".sig",
		"payload not json":    good + "." + segment(t, "not json") + ".sig",
		"payload is an array": good + "." + segment(t, `[1,2]`) + ".sig",
		"payload is null":     good + "." + segment(t, `null`) + ".sig",
		"empty header":        "." + good + ".sig",
		"non utf8":            string([]byte{0xff, 0xfe, '.', 0x80, '.', 0x00}),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Decode(input)
			if got != nil || !errors.Is(err, ErrMalformed) {
				t.Fatalf("Decode = %+v, %v; want nil, ErrMalformed", got, err)
			}
		})
	}
}

func TestDecodeAlphabetAndPadding(t *testing.T) {
	// Runs of five guarantee an aligned "~~~" ("fn5-") and "???" ("Pz8_").
	payload := `{"sub":"~~~~~","note":"?????"}`
	padded := base64.URLEncoding.EncodeToString([]byte(payload))
	if !strings.ContainsAny(padded, "-") || !strings.ContainsAny(padded, "_") {
		t.Fatalf("fixture %q does not exercise the url alphabet", padded)
	}
	tok := segment(t, `{"alg":"none"}`) + "." + padded + "."

	got, err := Decode(tok)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Payload.Sub != "~~~~~" {
		t.Errorf("sub = %q", got.Payload.Sub)
	}
	if got.Payload.Extra["note"] != "?????" {
		t.Errorf("extra = %v", got.Payload.Extra)
	}
}

func TestDecodeSignatureIgnored(t *testing.T) {
	tok := compact(t, `{"alg":"RS256"}`, `{"sub":"u2"}`)
	tok = tok[:strings.LastIndex(tok, ".")+1] + "@@not-base64@@"
	if _, err := Decode(tok); err != nil {
		t.Fatalf("signature should not be inspected: %v", err)
	}
}

func TestDecodeNeverPanics(t *testing.T) {
	inputs := []string{
		strings.Repeat(".", 10000),
		strings.Repeat("a", 1<<16) + ".b.c",
		segment(t, `{"exp":1e400}`) + "." + segment(t, `{"exp":1e400}`) + ".x",
		segment(t, `{}`) + "." + segment(t, `{"iat":"soon","exp":-5.5}`) + ".x",
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Decode panicked: %v", r)
				}
			}()
			_, _ = Decode(in)
		}()
	}
}

func TestPayloadTimes(t *testing.T) {
	got, err := Decode(compact(t, `{"alg":"HS256"}`, `{"sub":"u1","iat":1000,"exp":2000}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !got.Payload.IssuedAt().Equal(time.Unix(1000, 0)) {
		t.Errorf("IssuedAt = %v", got.Payload.IssuedAt())
	}
	if !got.Payload.Expired(time.Unix(2000, 0)) {
		t.Error("token should be expired at exp")
	}
	if got.Payload.Expired(time.Unix(1999, 0)) {
		t.Error("token should be valid before exp")
	}
	if (Payload{}).Expired(time.Now()) {
		t.Error("missing exp never expires")
	}
}

func TestDescribe(t *testing.T) {
	tok := compact(t, `{"alg":"HS256"}`, `{"sub":"u1","exp":2000}`)
	if got, want := Describe(tok), "sub=u1 exp=1970-01-01T00:33:20Z"; got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
	if got := Describe("garbage"); got != "" {
		t.Errorf("Describe(garbage) = %q, want empty", got)
	}
}
