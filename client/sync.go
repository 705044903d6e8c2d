package client

import (
	"context"
	"encoding/json"

	"nats-rpc/message"
)

// The *Sync variants run an operation to completion for callers without a
// context of their own.

// RequestSync is Request with a background context.
func (c *Client) RequestSync(namespace, method string, args message.Args, opts ...CallOption) (json.RawMessage, error) {
	return c.Request(context.Background(), namespace, method, args, opts...)
}

// CallSync is Call with a background context.
func (c *Client) CallSync(namespace, method string, args message.Args, reply any, opts ...CallOption) error {
	return c.Call(context.Background(), namespace, method, args, reply, opts...)
}

// PublishSync is Publish with a background context.
func (c *Client) PublishSync(namespace, method string, args message.Args, opts ...CallOption) error {
	return c.Publish(context.Background(), namespace, method, args, opts...)
}

// PublishDurableSync is PublishDurable with a background context.
func (c *Client) PublishDurableSync(namespace, method string, args message.Args, opts ...CallOption) error {
	return c.PublishDurable(context.Background(), namespace, method, args, opts...)
}

// Call is an asynchronous request started by Go.
type Call struct {
	Namespace string
	Method    string
	Args      message.Args
	Reply     any
	Error     error
	Done      chan *Call
}

// Go starts Call in its own goroutine and returns immediately. The finished
// Call is sent on done, which must be buffered; a nil done allocates one.
func (c *Client) Go(ctx context.Context, namespace, method string, args message.Args, reply any, done chan *Call, opts ...CallOption) *Call {
	if done == nil {
		done = make(chan *Call, 1)
	} else if cap(done) == 0 {
		panic("client: unbuffered done channel")
	}

	call := &Call{Namespace: namespace, Method: method, Args: args, Reply: reply, Done: done}
	go func() {
		call.Error = c.Call(ctx, namespace, method, args, reply, opts...)
		call.Done <- call
	}()
	return call
}
