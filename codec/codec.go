// Package codec serializes call and response envelopes.
//
// A Codec turns values into bytes. Two are provided:
//
//   - JSONCodec:     plain JSON, readable by any responder.
//   - ZstdJSONCodec: JSON compressed with zstd, for large payloads.
//
// The codec name travels in the Content-Type header so a responder (and the
// caller, on the way back) knows how to read the body.
package codec

import "fmt"

type CodecType string

const (
	CodecTypeJSON     CodecType = "json"
	CodecTypeZstdJSON CodecType = "json+zstd"
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec registered under codecType. The empty type
// selects JSON.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case "", CodecTypeJSON:
		return &JSONCodec{}, nil
	case CodecTypeZstdJSON:
		return &ZstdJSONCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", codecType)
}
