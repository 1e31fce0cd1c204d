// Package json routes medistream's JSON encoding through bytedance/sonic.
// The exported surface mirrors the subset of encoding/json the rest of the module uses.
package json

import (
	stdjson "encoding/json"
	"errors"
	"io"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
)

// ErrNotObject is returned by UnmarshalObject for JSON values that are not objects.
var ErrNotObject = errors.New("json: value is not an object")

// Marshal returns the JSON encoding of v using sonic.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal parses the JSON-encoded data and stores the result in v.
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// UnmarshalObject decodes data into a generic object. It fails when data is valid
// JSON but not an object, which callers decoding claims or error bodies rely on.
func UnmarshalObject(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotObject
	}
	return out, nil
}

var numberAPI = sonic.Config{UseNumber: true}.Froze()

// UnmarshalNumber is Unmarshal with numbers in interface values decoded as Number,
// so integer claims survive without float rounding.
func UnmarshalNumber(data []byte, v any) error {
	return numberAPI.Unmarshal(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return sonic.Valid(data)
}

type (
	// RawMessage is a raw encoded JSON value.
	RawMessage = stdjson.RawMessage

	// Number represents a JSON number literal.
	Number = stdjson.Number

	// SyntaxError is a description of a JSON syntax error.
	SyntaxError = stdjson.SyntaxError

	// UnmarshalTypeError describes a JSON value that was not appropriate for a value of a specific Go type.
	UnmarshalTypeError = stdjson.UnmarshalTypeError
)

// Encoder writes JSON values to an output stream.
type Encoder struct {
	enc *encoder.StreamEncoder
}

// NewEncoder returns a new encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: encoder.NewStreamEncoder(w)}
}

// Encode writes the JSON encoding of v to the stream.
func (e *Encoder) Encode(v any) error {
	return e.enc.Encode(v)
}

// SetIndent instructs the encoder to format each subsequent encoded value.
func (e *Encoder) SetIndent(prefix, indent string) {
	e.enc.SetIndent(prefix, indent)
}

// Decoder reads and decodes JSON values from an input stream.
type Decoder struct {
	dec *decoder.StreamDecoder
}

// NewDecoder returns a new decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: decoder.NewStreamDecoder(r)}
}

// Decode reads the next JSON-encoded value from its input and stores it in v.
func (d *Decoder) Decode(v any) error {
	return d.dec.Decode(v)
}

// UseNumber causes the Decoder to unmarshal a number into an interface{} as a Number instead of float64.
func (d *Decoder) UseNumber() {
	d.dec.UseNumber()
}
