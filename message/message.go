// Package message defines the envelopes exchanged between a caller and a
// remote responder, and the transport-level Msg that carries them.
//
// A Call is the structured request payload: method name, positional args and
// keyword args. A Response is what the responder sends back:
//
//	success: {"success": true,  "result": <any>}
//	failure: {"success": false, "error": "ValueError", "message": "bad id",
//	          "detail": <any>, "pickled_exc": <opaque>}
package message

import (
	"encoding/json"
	"maps"
)

// Header keys set on outgoing messages.
const (
	HeaderContentType = "Content-Type"
	HeaderRequestID   = "Rpc-Request-Id"
)

// Args holds the arguments of a remote call.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// Positional builds Args from positional values.
func Positional(v ...any) Args {
	return Args{Positional: v}
}

// Keyword builds Args holding a single keyword argument.
func Keyword(key string, v any) Args {
	return Args{}.With(key, v)
}

// With returns a copy of a with key set to v.
func (a Args) With(key string, v any) Args {
	kw := make(map[string]any, len(a.Keyword)+1)
	maps.Copy(kw, a.Keyword)
	kw[key] = v
	return Args{Positional: a.Positional, Keyword: kw}
}

// Call is the structured call envelope.
type Call struct {
	Method string         `json:"method"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// NewCall builds a Call with non-nil args and kwargs so the encoding is stable.
func NewCall(method string, args Args) *Call {
	c := &Call{Method: method, Args: args.Positional, Kwargs: args.Keyword}
	if c.Args == nil {
		c.Args = []any{}
	}
	if c.Kwargs == nil {
		c.Kwargs = map[string]any{}
	}
	return c
}

// Response is the reply envelope.
type Response struct {
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	PickledExc json.RawMessage `json:"pickled_exc,omitempty"`
}

// Op is the kind of transport operation a Msg is sent with.
type Op uint8

const (
	OpRequest Op = iota
	OpPublish
	OpPublishDurable
)

func (o Op) String() string {
	switch o {
	case OpRequest:
		return "request"
	case OpPublish:
		return "publish"
	case OpPublishDurable:
		return "publish_durable"
	}
	return "unknown"
}

// Msg is a single message on the transport.
type Msg struct {
	Op      Op
	Subject string
	Method  string // informational; the method also travels inside Data
	Header  map[string]string
	Data    []byte
}

// SetHeader sets a header value, allocating the map on first use.
func (m *Msg) SetHeader(key, value string) {
	if m.Header == nil {
		m.Header = make(map[string]string)
	}
	m.Header[key] = value
}
