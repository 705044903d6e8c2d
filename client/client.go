// Package client is the caller side of RPC over NATS.
//
// Every operation loads its settings, derives the subject, encodes the call,
// dials its own connection and releases it before returning:
//
//	cli := client.New(config.FromEnv())
//	var status string
//	err := cli.Call(ctx, "orders", "get_status", message.Keyword("id", 42), &status)
//
// Remote failures come back as *rpcerror.RemoteError, or as the error type
// registered for their kind through WithErrorRegistry.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nats-rpc/codec"
	"nats-rpc/config"
	"nats-rpc/loadbalance"
	"nats-rpc/message"
	"nats-rpc/middleware"
	"nats-rpc/rpcerror"
	"nats-rpc/subject"
	"nats-rpc/transport"
)

// Client is safe for concurrent use. It keeps no connection between calls.
type Client struct {
	dialer      transport.Dialer
	codec       codec.Codec
	errors      *rpcerror.Registry
	logger      *zap.Logger
	middlewares []middleware.Middleware

	manager *transport.Manager
	chain   middleware.Middleware
}

// New creates a client reading its settings from provider on every call.
func New(provider config.Provider, opts ...Option) *Client {
	c := &Client{
		dialer: transport.NATSDialer{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	c.manager = transport.NewManager(provider, c.dialer, c.logger)
	c.chain = middleware.Chain(append([]middleware.Middleware{middleware.Logging(c.logger)}, c.middlewares...)...)
	return c
}

// outgoing is an encoded call ready to be sent.
type outgoing struct {
	settings config.Settings
	envelope *codec.Envelope
	msg      *message.Msg
	opts     callOptions
}

func (c *Client) envelope(s config.Settings) (*codec.Envelope, error) {
	cdc := c.codec
	if cdc == nil {
		var err error
		if cdc, err = codec.GetCodec(codec.CodecType(s.Codec)); err != nil {
			return nil, fmt.Errorf("%w: %v", rpcerror.ErrEncoding, err)
		}
	}
	return codec.NewEnvelope(cdc, c.errors), nil
}

// prepare loads settings, derives the subject and encodes the call. Nothing
// is dialed yet.
func (c *Client) prepare(ctx context.Context, op message.Op, namespace, method string, args message.Args, opts []CallOption) (*outgoing, error) {
	s, err := c.manager.Settings(loadbalance.WithKey(ctx, namespace))
	if err != nil {
		return nil, err
	}

	conv, err := s.Convention()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rpcerror.ErrInvalidSubject, err)
	}
	subj, err := subject.Derive(conv, namespace, method, op == message.OpPublishDurable)
	if err != nil {
		return nil, err
	}

	env, err := c.envelope(s)
	if err != nil {
		return nil, err
	}
	data, err := env.EncodeCall(method, args)
	if err != nil {
		return nil, err
	}

	o := newCallOptions(opts)
	msg := &message.Msg{Op: op, Subject: subj, Method: method, Data: data}
	for k, v := range o.header {
		msg.SetHeader(k, v)
	}
	msg.SetHeader(message.HeaderContentType, env.ContentType())

	return &outgoing{settings: s, envelope: env, msg: msg, opts: o}, nil
}

// send runs the middleware chain around the transport operation. The
// connection is acquired inside the chain, so a middleware that rejects the
// message does so before anything is dialed; it is released before send
// returns.
func (c *Client) send(ctx context.Context, out *outgoing) (*message.Msg, error) {
	timeout := out.settings.Timeout(out.opts.timeout)
	bound := timeout

	handler := c.chain(func(ctx context.Context, msg *message.Msg) (*message.Msg, error) {
		lease, err := c.manager.Acquire(ctx, out.settings)
		if err != nil {
			return nil, err
		}
		defer lease.Release()
		conn := lease.Conn()

		// the deadline starts right before the message goes out; a closer
		// deadline on ctx is the one that applies
		if deadline, ok := ctx.Deadline(); ok {
			bound = min(timeout, max(time.Until(deadline), 0))
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		switch msg.Op {
		case message.OpRequest:
			return conn.Request(ctx, msg)
		case message.OpPublish:
			return nil, conn.Publish(ctx, msg)
		case message.OpPublishDurable:
			return nil, conn.PublishDurable(ctx, msg)
		}
		return nil, fmt.Errorf("client: unknown op %s", msg.Op)
	})

	resp, err := handler(ctx, out.msg)
	if err != nil {
		if out.msg.Op == message.OpRequest && errors.Is(err, rpcerror.ErrTimeout) {
			return nil, &rpcerror.TimeoutError{Subject: out.msg.Subject, Timeout: bound}
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) request(ctx context.Context, namespace, method string, args message.Args, opts []CallOption) (*codec.Envelope, *message.Msg, error) {
	out, err := c.prepare(ctx, message.OpRequest, namespace, method, args, opts)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.send(ctx, out)
	if err != nil {
		return nil, nil, err
	}
	return out.envelope.For(resp.Header[message.HeaderContentType]), resp, nil
}

// Request calls method in namespace and returns the JSON result of a
// successful reply. A failed reply is returned as an error.
func (c *Client) Request(ctx context.Context, namespace, method string, args message.Args, opts ...CallOption) (json.RawMessage, error) {
	env, resp, err := c.request(ctx, namespace, method, args, opts)
	if err != nil {
		return nil, err
	}
	return env.DecodeReply(resp.Data)
}

// RequestRaw is Request without turning failed replies into errors: the
// response envelope is returned as is, minus the pickled exception.
func (c *Client) RequestRaw(ctx context.Context, namespace, method string, args message.Args, opts ...CallOption) (*message.Response, error) {
	env, resp, err := c.request(ctx, namespace, method, args, opts)
	if err != nil {
		return nil, err
	}
	return env.DecodeRaw(resp.Data)
}

// Call is Request decoding the result into reply. A nil reply discards it.
func (c *Client) Call(ctx context.Context, namespace, method string, args message.Args, reply any, opts ...CallOption) error {
	env, resp, err := c.request(ctx, namespace, method, args, opts)
	if err != nil {
		return err
	}
	result, err := env.DecodeReply(resp.Data)
	if err != nil {
		return err
	}
	return env.Unmarshal(result, reply)
}

func (c *Client) publish(ctx context.Context, op message.Op, namespace, method string, args message.Args, opts []CallOption) error {
	out, err := c.prepare(ctx, op, namespace, method, args, opts)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, out)
	return err
}

// Publish sends a call without waiting for a reply. It succeeds whether or
// not anybody is subscribed.
func (c *Client) Publish(ctx context.Context, namespace, method string, args message.Args, opts ...CallOption) error {
	return c.publish(ctx, message.OpPublish, namespace, method, args, opts)
}

// PublishDurable sends a call through JetStream and waits for the stream to
// acknowledge it.
func (c *Client) PublishDurable(ctx context.Context, namespace, method string, args message.Args, opts ...CallOption) error {
	return c.publish(ctx, message.OpPublishDurable, namespace, method, args, opts)
}
