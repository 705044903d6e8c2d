package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"nats-rpc/config"
	"nats-rpc/message"
	"nats-rpc/rpcerror"
)

const defaultFlushTimeout = 2 * time.Second

// NATSDialer dials NATS servers with nats.go.
//
// Connections are short-lived and owned by one call, so reconnects are
// disabled; a broken connection fails the call instead.
type NATSDialer struct {
	// Extra options applied after the ones derived from config.Options.
	Extra []nats.Option
}

func natsOptions(o config.Options) []nats.Option {
	opts := []nats.Option{nats.NoReconnect()}
	if o.Name != "" {
		opts = append(opts, nats.Name(o.Name))
	}
	if o.User != "" {
		opts = append(opts, nats.UserInfo(o.User, o.Password))
	}
	if o.Token != "" {
		opts = append(opts, nats.Token(o.Token))
	}
	if o.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(o.CredsFile))
	}
	if o.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(time.Duration(o.ConnectTimeout)))
	}
	if o.NoRandomize {
		opts = append(opts, nats.DontRandomize())
	}
	if o.NoEcho {
		opts = append(opts, nats.NoEcho())
	}
	if o.InboxPrefix != "" {
		opts = append(opts, nats.CustomInboxPrefix(o.InboxPrefix))
	}
	if len(o.RootCAs) > 0 {
		opts = append(opts, nats.RootCAs(o.RootCAs...))
	}
	if o.CertFile != "" && o.KeyFile != "" {
		opts = append(opts, nats.ClientCert(o.CertFile, o.KeyFile))
	}
	return opts
}

// Dial connects to the first reachable server of addrs.
func (d NATSDialer) Dial(ctx context.Context, addrs []string, o config.Options) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := natsOptions(o)
	// nats.Connect does not take a context; bound the handshake by its deadline
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if o.ConnectTimeout <= 0 || remaining < time.Duration(o.ConnectTimeout) {
			opts = append(opts, nats.Timeout(remaining))
		}
	}
	opts = append(opts, d.Extra...)

	nc, err := nats.Connect(strings.Join(addrs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", strings.Join(addrs, ","), err)
	}

	flush := time.Duration(o.FlushTimeout)
	if flush <= 0 {
		flush = defaultFlushTimeout
	}
	return &natsConn{nc: nc, flushTimeout: flush}, nil
}

type natsConn struct {
	nc           *nats.Conn
	flushTimeout time.Duration

	jsOnce sync.Once
	js     jetstream.JetStream
	jsErr  error
}

func toNATS(msg *message.Msg) *nats.Msg {
	m := nats.NewMsg(msg.Subject)
	m.Data = msg.Data
	for k, v := range msg.Header {
		m.Header.Set(k, v)
	}
	return m
}

func fromNATS(m *nats.Msg) *message.Msg {
	out := &message.Msg{Subject: m.Subject, Data: m.Data}
	for k := range m.Header {
		out.SetHeader(k, m.Header.Get(k))
	}
	return out
}

func mapNATSError(err error) error {
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return fmt.Errorf("%w: %v", rpcerror.ErrNoResponders, err)
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", rpcerror.ErrTimeout, err)
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining):
		return fmt.Errorf("%w: %v", rpcerror.ErrConnection, err)
	}
	return err
}

func (c *natsConn) Request(ctx context.Context, msg *message.Msg) (*message.Msg, error) {
	resp, err := c.nc.RequestMsgWithContext(ctx, toNATS(msg))
	if err != nil {
		return nil, mapNATSError(err)
	}
	return fromNATS(resp), nil
}

// Publish hands msg to the server and flushes, so the message has left the
// process before the connection is closed.
func (c *natsConn) Publish(ctx context.Context, msg *message.Msg) error {
	if err := c.nc.PublishMsg(toNATS(msg)); err != nil {
		return mapNATSError(err)
	}

	var err error
	if _, ok := ctx.Deadline(); ok {
		err = c.nc.FlushWithContext(ctx)
	} else {
		err = c.nc.FlushTimeout(c.flushTimeout)
	}
	if err != nil {
		return fmt.Errorf("%w: flush: %v", rpcerror.ErrConnection, err)
	}
	return nil
}

func (c *natsConn) jetStream() (jetstream.JetStream, error) {
	c.jsOnce.Do(func() {
		c.js, c.jsErr = jetstream.New(c.nc)
	})
	return c.js, c.jsErr
}

// PublishDurable publishes through JetStream and waits for the stream's ack.
func (c *natsConn) PublishDurable(ctx context.Context, msg *message.Msg) error {
	js, err := c.jetStream()
	if err != nil {
		return fmt.Errorf("%w: jetstream: %v", rpcerror.ErrConnection, err)
	}
	if _, err := js.PublishMsg(ctx, toNATS(msg)); err != nil {
		return fmt.Errorf("%w: %s: %v", rpcerror.ErrPublish, msg.Subject, err)
	}
	return nil
}

func (c *natsConn) Close() error {
	c.nc.Close()
	return nil
}
