package codec

import (
	json "github.com/goccy/go-json"
)

// JSONCodec uses goccy/go-json, a drop-in replacement for encoding/json.
// Pros: human-readable, cross-language, easy to debug.
// Cons: larger payload (field names repeated).
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
