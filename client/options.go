package client

import (
	"time"

	"go.uber.org/zap"

	"nats-rpc/codec"
	"nats-rpc/middleware"
	"nats-rpc/rpcerror"
	"nats-rpc/transport"
)

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the NATS dialer, e.g. with a transport.Loopback.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithCodec fixes the value codec, ignoring Settings.Codec.
func WithCodec(cdc codec.Codec) Option {
	return func(c *Client) { c.codec = cdc }
}

// WithErrorRegistry sets the kinds that remote failures rehydrate into.
func WithErrorRegistry(reg *rpcerror.Registry) Option {
	return func(c *Client) { c.errors = reg }
}

// WithLogger sets the logger used for call logs and connection warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMiddleware appends middlewares around the send step of every call.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mw...) }
}

// CallOption tunes a single call.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
	header  map[string]string
}

// WithTimeout overrides the configured request timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithHeader adds a message header to one call.
func WithHeader(key, value string) CallOption {
	return func(o *callOptions) {
		if o.header == nil {
			o.header = make(map[string]string)
		}
		o.header[key] = value
	}
}

func newCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
