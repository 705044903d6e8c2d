// Package transport connects calls to the pub/sub bus.
//
// Every call dials its own Conn through a Manager and releases it through a
// Lease when the call ends, whatever the outcome:
//
//	call ──Acquire──► Lease{Conn} ──Request / Publish / PublishDurable──► bus
//	  └──────────────── defer lease.Release() (exactly one Close) ◄─────────┘
//
// Two Dialers are provided: NATSDialer for a real NATS deployment and
// Loopback, an in-process bus used by tests and local development.
package transport

import (
	"context"

	"nats-rpc/config"
	"nats-rpc/message"
)

// Conn is a call-scoped connection to the bus. It is never shared between
// calls.
type Conn interface {
	// Request sends msg and waits for one correlated reply until ctx is done.
	Request(ctx context.Context, msg *message.Msg) (*message.Msg, error)
	// Publish sends msg without waiting for a reply.
	Publish(ctx context.Context, msg *message.Msg) error
	// PublishDurable sends msg through the log-backed (JetStream) path.
	PublishDurable(ctx context.Context, msg *message.Msg) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, addrs []string, opts config.Options) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addrs []string, opts config.Options) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, addrs []string, opts config.Options) (Conn, error) {
	return f(ctx, addrs, opts)
}
