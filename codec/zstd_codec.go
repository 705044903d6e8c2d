package codec

import (
	"sync"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// maxDecodedSize bounds the memory a single decompressed body may use.
const maxDecodedSize = 64 << 20

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll calls,
// so one pair is shared by the whole process.
func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// ZstdJSONCodec encodes values as JSON and compresses the result with zstd.
type ZstdJSONCodec struct{}

func (c *ZstdJSONCodec) Encode(v any) ([]byte, error) {
	enc, _, err := zstdCoders()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *ZstdJSONCodec) Decode(data []byte, v any) error {
	_, dec, err := zstdCoders()
	if err != nil {
		return err
	}
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (c *ZstdJSONCodec) Type() CodecType {
	return CodecTypeZstdJSON
}
