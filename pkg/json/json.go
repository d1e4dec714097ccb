// Package json wraps goccy/go-json behind a small seam so the codec can
// be swapped in one place.
package json

import (
	"io"

	gojson "github.com/goccy/go-json"
)

// Marshal serializes v to JSON
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalIndent serializes v to indented JSON
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal deserializes JSON data into v
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// NewDecoder returns a streaming decoder reading from r
func NewDecoder(r io.Reader) *gojson.Decoder {
	return gojson.NewDecoder(r)
}

// NewEncoder returns a streaming encoder writing to w
func NewEncoder(w io.Writer) *gojson.Encoder {
	return gojson.NewEncoder(w)
}

// Valid reports whether data is syntactically valid JSON
func Valid(data []byte) bool {
	return gojson.Valid(data)
}
