package transport

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"nats-rpc/config"
	"nats-rpc/message"
	"nats-rpc/rpcerror"
)

// Handler answers a request on the loopback bus. Returning a nil Msg and a
// nil error withholds the reply, so the request runs into its deadline.
type Handler func(ctx context.Context, msg *message.Msg) (*message.Msg, error)

// Loopback is an in-process bus. Every Dial returns a fresh connection to the
// same bus; the bus records what was sent and counts dials and closes so
// callers can check that no connection leaked.
type Loopback struct {
	mu        sync.Mutex
	handlers  map[string]Handler
	requests  []*message.Msg
	published []*message.Msg
	durable   []*message.Msg
	dialErr   error

	dials  atomic.Int64
	closes atomic.Int64
}

// NewLoopback returns an empty bus.
func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[string]Handler)}
}

// Handle registers h as the responder for subject.
func (l *Loopback) Handle(subject string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[subject] = h
}

// FailDial makes every following Dial fail with err (nil restores dialing).
func (l *Loopback) FailDial(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dialErr = err
}

func (l *Loopback) Dial(ctx context.Context, addrs []string, _ config.Options) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, errors.New("loopback: no address")
	}
	l.mu.Lock()
	err := l.dialErr
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	l.dials.Add(1)
	return &loopConn{bus: l}, nil
}

// Dials is the number of successful dials.
func (l *Loopback) Dials() int64 { return l.dials.Load() }

// Closes is the number of Close calls across all connections.
func (l *Loopback) Closes() int64 { return l.closes.Load() }

// Open is the number of connections dialed but not yet closed.
func (l *Loopback) Open() int64 { return l.dials.Load() - l.closes.Load() }

// Requests returns the requests sent so far.
func (l *Loopback) Requests() []*message.Msg { return l.snapshot(&l.requests) }

// Published returns the plain publishes sent so far.
func (l *Loopback) Published() []*message.Msg { return l.snapshot(&l.published) }

// Durable returns the durable publishes sent so far.
func (l *Loopback) Durable() []*message.Msg { return l.snapshot(&l.durable) }

func (l *Loopback) snapshot(list *[]*message.Msg) []*message.Msg {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*message.Msg(nil), (*list)...)
}

func (l *Loopback) record(list *[]*message.Msg, msg *message.Msg) *message.Msg {
	cp := &message.Msg{
		Op:      msg.Op,
		Subject: msg.Subject,
		Method:  msg.Method,
		Header:  maps.Clone(msg.Header),
		Data:    append([]byte(nil), msg.Data...),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*list = append(*list, cp)
	return cp
}

func (l *Loopback) handler(subject string) (Handler, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handlers[subject]
	return h, ok
}

type loopConn struct {
	bus    *Loopback
	closed atomic.Bool
}

var errLoopClosed = errors.New("loopback: connection closed")

type loopReply struct {
	msg *message.Msg
	err error
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", rpcerror.ErrTimeout, ctx.Err())
	}
	return ctx.Err()
}

// Request runs the subject's handler in its own goroutine and waits for its
// reply or for ctx, whichever comes first.
func (c *loopConn) Request(ctx context.Context, msg *message.Msg) (*message.Msg, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: %v", rpcerror.ErrConnection, errLoopClosed)
	}
	req := c.bus.record(&c.bus.requests, msg)

	h, ok := c.bus.handler(msg.Subject)
	if !ok {
		return nil, fmt.Errorf("%w: %s", rpcerror.ErrNoResponders, msg.Subject)
	}

	// Buffered so the handler goroutine never blocks after the caller left
	respChan := make(chan loopReply, 1)
	go func() {
		m, err := h(ctx, req)
		respChan <- loopReply{msg: m, err: err}
	}()

	select {
	case r := <-respChan:
		if r.err != nil {
			return nil, r.err
		}
		if r.msg == nil {
			<-ctx.Done()
			return nil, contextError(ctx)
		}
		return r.msg, nil
	case <-ctx.Done():
		return nil, contextError(ctx)
	}
}

func (c *loopConn) Publish(_ context.Context, msg *message.Msg) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: %v", rpcerror.ErrConnection, errLoopClosed)
	}
	c.bus.record(&c.bus.published, msg)
	return nil
}

func (c *loopConn) PublishDurable(_ context.Context, msg *message.Msg) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: %v", rpcerror.ErrConnection, errLoopClosed)
	}
	c.bus.record(&c.bus.durable, msg)
	return nil
}

// Close counts every call, so a double close shows up in Closes.
func (c *loopConn) Close() error {
	c.bus.closes.Add(1)
	c.closed.Store(true)
	return nil
}
