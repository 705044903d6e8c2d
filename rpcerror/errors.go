// Package rpcerror defines the error taxonomy shared by every layer of nats-rpc.
//
// Local failures are sentinel values wrapped with context via fmt.Errorf("%w").
// Failures reported by the callee arrive as *RemoteError, or as a caller-defined
// error type when its kind has been registered in a Registry.
//
//	ErrEncoding      argument could not be serialized (local, not retried)
//	ErrConnection    transport unreachable or misconfigured
//	ErrTimeout       no reply within the deadline (see *TimeoutError)
//	ErrNoResponders  nobody is subscribed on the request subject
//	ErrDecoding      reply payload is empty or not a valid envelope
//	ErrPublish       durable publish was not acknowledged
//	ErrRemote        application-level failure reported by the callee
package rpcerror

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrEncoding       = errors.New("natsrpc: encoding error")
	ErrConnection     = errors.New("natsrpc: connection error")
	ErrTimeout        = errors.New("natsrpc: request timeout")
	ErrNoResponders   = errors.New("natsrpc: no responders")
	ErrDecoding       = errors.New("natsrpc: decoding error")
	ErrPublish        = errors.New("natsrpc: publish failed")
	ErrInvalidSubject = errors.New("natsrpc: invalid subject")
	ErrRateLimited    = errors.New("natsrpc: rate limit exceeded")
)

// ErrRemote is a sentinel for use with errors.Is to check whether any error
// in a chain is a *RemoteError.
var ErrRemote = &RemoteError{}

// TimeoutError is returned when a request got no reply within its deadline.
type TimeoutError struct {
	Subject string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("natsrpc: request on %q timed out after %s", e.Subject, e.Timeout)
}

// Is lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// RemoteError is a failure reported by the callee in a response envelope.
type RemoteError struct {
	Kind    string          // e.g. "ValueError"
	Message string          // human-readable detail
	Detail  json.RawMessage // optional structured detail, verbatim from the wire
}

func (e *RemoteError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return e.Kind + ": " + e.Message
}

// Is supports errors.Is by matching any *RemoteError target.
func (e *RemoteError) Is(target error) bool {
	_, ok := target.(*RemoteError)
	return ok
}

// Kinder is implemented by errors that know their wire kind.
type Kinder interface {
	Kind() string
}

// Detailer is implemented by errors that carry structured detail for the wire.
type Detailer interface {
	Detail() any
}

// DefaultKind is used on the wire for errors that do not implement Kinder.
const DefaultKind = "Error"

// Describe splits err into the kind, message and detail carried by a failure
// envelope. A *RemoteError round-trips unchanged.
func Describe(err error) (kind, message string, detail any) {
	var remote *RemoteError
	if errors.As(err, &remote) && remote.Kind != "" {
		var d any
		if len(remote.Detail) > 0 {
			d = remote.Detail
		}
		return remote.Kind, remote.Message, d
	}

	kind = DefaultKind
	message = err.Error()
	if k, ok := err.(Kinder); ok && k.Kind() != "" {
		kind = k.Kind()
		if m, ok := err.(interface{ Message() string }); ok {
			message = m.Message()
		}
	}
	if d, ok := err.(Detailer); ok {
		detail = d.Detail()
	}
	return kind, message, detail
}
