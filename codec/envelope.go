package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	gojson "github.com/goccy/go-json"

	"nats-rpc/message"
	"nats-rpc/rpcerror"
)

// Envelope encodes call envelopes and decodes response envelopes.
//
// The outer envelope is serialized with Codec; the result and detail fields
// inside it are always JSON so they can be handed to callers verbatim.
type Envelope struct {
	Codec  Codec
	Errors *rpcerror.Registry // kinds that rehydrate into local error types
}

// NewEnvelope returns an Envelope using c (JSON when nil) and reg.
func NewEnvelope(c Codec, reg *rpcerror.Registry) *Envelope {
	if c == nil {
		c = &JSONCodec{}
	}
	return &Envelope{Codec: c, Errors: reg}
}

func (e *Envelope) codec() Codec {
	if e.Codec == nil {
		return &JSONCodec{}
	}
	return e.Codec
}

// ContentType is the header value naming this envelope's codec.
func (e *Envelope) ContentType() string {
	return string(e.codec().Type())
}

// For returns an Envelope that reads bodies labelled with contentType.
// Unknown or empty labels keep the receiver.
func (e *Envelope) For(contentType string) *Envelope {
	if contentType == "" || CodecType(contentType) == e.codec().Type() {
		return e
	}
	c, err := GetCodec(CodecType(contentType))
	if err != nil {
		return e
	}
	return &Envelope{Codec: c, Errors: e.Errors}
}

// EncodeCall serializes a call to method with args.
func (e *Envelope) EncodeCall(method string, args message.Args) ([]byte, error) {
	data, err := e.codec().Encode(message.NewCall(method, args))
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", rpcerror.ErrEncoding, method, err)
	}
	return data, nil
}

// DecodeReply returns the result of a successful reply, or the error a
// failed reply describes. Failures are rehydrated through Errors; kinds that
// cannot be rehydrated become *rpcerror.RemoteError.
func (e *Envelope) DecodeReply(data []byte) (json.RawMessage, error) {
	resp, err := e.parse(data)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		var detail json.RawMessage
		if !absent(resp.Detail) {
			detail = resp.Detail
		}
		return nil, e.Errors.Rehydrate(resp.Error, resp.Message, detail)
	}
	if absent(resp.Result) {
		return json.RawMessage("null"), nil
	}
	return resp.Result, nil
}

// DecodeRaw returns the envelope verbatim, without turning failures into
// errors. The opaque exception blob is stripped.
func (e *Envelope) DecodeRaw(data []byte) (*message.Response, error) {
	resp, err := e.parse(data)
	if err != nil {
		return nil, err
	}
	resp.PickledExc = nil
	return resp, nil
}

// Unmarshal decodes a result returned by DecodeReply into reply.
func (e *Envelope) Unmarshal(result json.RawMessage, reply any) error {
	if reply == nil {
		return nil
	}
	if err := gojson.Unmarshal(result, reply); err != nil {
		return fmt.Errorf("%w: result: %v", rpcerror.ErrDecoding, err)
	}
	return nil
}

// EncodeSuccess builds a success envelope carrying v.
func (e *Envelope) EncodeSuccess(v any) ([]byte, error) {
	result, err := gojson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: result: %v", rpcerror.ErrEncoding, err)
	}
	return e.encodeResponse(&message.Response{Success: true, Result: result})
}

// EncodeFailure builds a failure envelope describing err.
func (e *Envelope) EncodeFailure(err error) ([]byte, error) {
	if err == nil {
		return nil, fmt.Errorf("%w: nil error", rpcerror.ErrEncoding)
	}
	kind, msg, detail := rpcerror.Describe(err)
	resp := &message.Response{Success: false, Error: kind, Message: msg}
	if detail != nil {
		raw, derr := gojson.Marshal(detail)
		if derr != nil {
			return nil, fmt.Errorf("%w: detail: %v", rpcerror.ErrEncoding, derr)
		}
		resp.Detail = raw
	}
	return e.encodeResponse(resp)
}

func (e *Envelope) encodeResponse(resp *message.Response) ([]byte, error) {
	data, err := e.codec().Encode(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: response: %v", rpcerror.ErrEncoding, err)
	}
	return data, nil
}

var errEmptyReply = errors.New("empty reply")

// parse decodes a response envelope and checks the success/failure shape.
func (e *Envelope) parse(data []byte) (*message.Response, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %v", rpcerror.ErrDecoding, errEmptyReply)
	}

	resp := &message.Response{}
	if err := e.codec().Decode(data, resp); err != nil {
		return nil, fmt.Errorf("%w: %v", rpcerror.ErrDecoding, err)
	}

	if resp.Success {
		if resp.Error != "" || resp.Message != "" || !absent(resp.Detail) || !absent(resp.PickledExc) {
			return nil, fmt.Errorf("%w: success envelope carries error fields", rpcerror.ErrDecoding)
		}
		return resp, nil
	}

	if !absent(resp.Result) {
		return nil, fmt.Errorf("%w: failure envelope carries a result", rpcerror.ErrDecoding)
	}
	if resp.Error == "" && resp.Message == "" {
		return nil, fmt.Errorf("%w: failure envelope without error or message", rpcerror.ErrDecoding)
	}
	return resp, nil
}

// absent reports whether a raw field was omitted or explicitly null.
func absent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
