package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"nats-rpc/codec"
	"nats-rpc/config"
	"nats-rpc/message"
	"nats-rpc/middleware"
	"nats-rpc/rpcerror"
	"nats-rpc/transport"
)

// reply answers every call on subject with fn's result, the way a responder
// built on the same envelope would.
func reply(bus *transport.Loopback, subject string, fn func(call *message.Call) (any, error)) {
	bus.Handle(subject, func(_ context.Context, msg *message.Msg) (*message.Msg, error) {
		cdc, err := codec.GetCodec(codec.CodecType(msg.Header[message.HeaderContentType]))
		if err != nil {
			return nil, err
		}
		var call message.Call
		if err := cdc.Decode(msg.Data, &call); err != nil {
			return nil, err
		}

		env := codec.NewEnvelope(cdc, nil)
		var data []byte
		if result, ferr := fn(&call); ferr != nil {
			data, err = env.EncodeFailure(ferr)
		} else {
			data, err = env.EncodeSuccess(result)
		}
		if err != nil {
			return nil, err
		}
		resp := &message.Msg{Data: data}
		resp.SetHeader(message.HeaderContentType, env.ContentType())
		return resp, nil
	})
}

func raw(bus *transport.Loopback, subject string, data string) {
	bus.Handle(subject, func(context.Context, *message.Msg) (*message.Msg, error) {
		return &message.Msg{Data: []byte(data)}, nil
	})
}

func newTestClient(bus *transport.Loopback, opts ...Option) *Client {
	s := config.Settings{Server: "loop://local"}
	return New(config.Static(s), append([]Option{WithDialer(bus)}, opts...)...)
}

func assertReleased(t *testing.T, bus *transport.Loopback) {
	t.Helper()
	if bus.Dials() != bus.Closes() {
		t.Fatalf("leaked connections: %d dialed, %d closed", bus.Dials(), bus.Closes())
	}
}

func TestRequestSuccess(t *testing.T) {
	bus := transport.NewLoopback()
	reply(bus, "orders.get_status", func(call *message.Call) (any, error) {
		if call.Method != "get_status" || len(call.Args) != 1 || call.Args[0] != "A1" {
			return nil, fmt.Errorf("unexpected call %+v", call)
		}
		return "SHIPPED", nil
	})
	cli := newTestClient(bus)

	result, err := cli.Request(context.Background(), "orders", "get_status", message.Positional("A1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(result) != `"SHIPPED"` {
		t.Fatalf("expect \"SHIPPED\", got %s", result)
	}
	if bus.Dials() != 1 || bus.Closes() != 1 {
		t.Fatalf("expect one dial and one close, got %d/%d", bus.Dials(), bus.Closes())
	}
}

func TestCallDecodesReply(t *testing.T) {
	type order struct {
		ID     int    `json:"id"`
		Status string `json:"status"`
	}

	bus := transport.NewLoopback()
	reply(bus, "orders.get", func(call *message.Call) (any, error) {
		id := call.Kwargs["id"].(float64)
		return order{ID: int(id), Status: "SHIPPED"}, nil
	})
	cli := newTestClient(bus)

	var got order
	if err := cli.Call(context.Background(), "orders", "get", message.Keyword("id", 7), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != 7 || got.Status != "SHIPPED" {
		t.Fatalf("unexpected reply %+v", got)
	}

	var wrong int
	err := cli.Call(context.Background(), "orders", "get", message.Keyword("id", 7), &wrong)
	if !errors.Is(err, rpcerror.ErrDecoding) {
		t.Fatalf("expect ErrDecoding for a mismatched reply type, got %v", err)
	}
	assertReleased(t, bus)
}

func TestRequestRemoteError(t *testing.T) {
	bus := transport.NewLoopback()
	raw(bus, "orders.get_status", `{"success":false,"error":"ValueError","message":"bad id","pickled_exc":null}`)
	cli := newTestClient(bus)

	_, err := cli.Request(context.Background(), "orders", "get_status", message.Positional("A1"))
	if err == nil || err.Error() != "ValueError: bad id" {
		t.Fatalf("expect 'ValueError: bad id', got %v", err)
	}
	var remote *rpcerror.RemoteError
	if !errors.As(err, &remote) || remote.Kind != "ValueError" {
		t.Fatalf("expect *RemoteError, got %T", err)
	}
	assertReleased(t, bus)
}

type notFound struct{ msg string }

func (e *notFound) Error() string { return e.msg }
func (e *notFound) Kind() string  { return "NotFound" }

func TestRequestRehydratesRegisteredKind(t *testing.T) {
	bus := transport.NewLoopback()
	reply(bus, "orders.get_status", func(*message.Call) (any, error) {
		return nil, &notFound{msg: "no order A9"}
	})

	reg := rpcerror.NewRegistry()
	reg.Register("NotFound", func(msg string, _ json.RawMessage) error { return &notFound{msg: msg} })
	cli := newTestClient(bus, WithErrorRegistry(reg))

	_, err := cli.Request(context.Background(), "orders", "get_status", message.Positional("A9"))
	var nf *notFound
	if !errors.As(err, &nf) || nf.msg != "no order A9" {
		t.Fatalf("expect *notFound, got %T %v", err, err)
	}
}

func TestRequestRaw(t *testing.T) {
	bus := transport.NewLoopback()
	raw(bus, "orders.get_status", `{"success":false,"error":"ValueError","message":"bad id","pickled_exc":"gASV"}`)
	cli := newTestClient(bus)

	resp, err := cli.RequestRaw(context.Background(), "orders", "get_status", message.Positional("A1"))
	if err != nil {
		t.Fatalf("raw requests should not raise remote failures, got %v", err)
	}
	if resp.Success || resp.Error != "ValueError" || resp.Message != "bad id" {
		t.Fatalf("unexpected envelope %+v", resp)
	}
	if resp.PickledExc != nil {
		t.Fatalf("pickled exception should be stripped, got %s", resp.PickledExc)
	}
}

func TestRequestTimeout(t *testing.T) {
	bus := transport.NewLoopback()
	bus.Handle("orders.get_status", func(context.Context, *message.Msg) (*message.Msg, error) {
		return nil, nil
	})
	cli := newTestClient(bus)

	start := time.Now()
	_, err := cli.Request(context.Background(), "orders", "get_status", message.Positional("A1"), WithTimeout(10*time.Millisecond))
	elapsed := time.Since(start)

	var te *rpcerror.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expect *TimeoutError, got %T %v", err, err)
	}
	if te.Subject != "orders.get_status" || te.Timeout != 10*time.Millisecond {
		t.Fatalf("unexpected timeout error %+v", te)
	}
	if !errors.Is(err, rpcerror.ErrTimeout) {
		t.Fatal("TimeoutError should match ErrTimeout")
	}
	if elapsed < 10*time.Millisecond || elapsed > time.Second {
		t.Fatalf("timed out after %s", elapsed)
	}
	assertReleased(t, bus)
}

func TestRequestTimeoutCallerDeadline(t *testing.T) {
	bus := transport.NewLoopback()
	bus.Handle("orders.slow", func(context.Context, *message.Msg) (*message.Msg, error) {
		return nil, nil
	})
	s := config.Settings{Server: "loop://local", RequestTimeout: config.Duration(5 * time.Second)}
	cli := New(config.Static(s), WithDialer(bus))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := cli.Request(ctx, "orders", "slow", message.Args{})
	elapsed := time.Since(start)

	var te *rpcerror.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expect *TimeoutError, got %T %v", err, err)
	}
	// the caller's 20ms deadline applied, not the configured 5s
	if te.Timeout <= 0 || te.Timeout > 20*time.Millisecond {
		t.Fatalf("expect the caller's bound, got %s", te.Timeout)
	}
	if elapsed > time.Second {
		t.Fatalf("timed out after %s", elapsed)
	}
	assertReleased(t, bus)
}

func TestRequestTimeoutFromSettings(t *testing.T) {
	bus := transport.NewLoopback()
	bus.Handle("orders.slow", func(context.Context, *message.Msg) (*message.Msg, error) {
		return nil, nil
	})
	s := config.Settings{Server: "loop://local", RequestTimeout: config.Duration(15 * time.Millisecond)}
	cli := New(config.Static(s), WithDialer(bus))

	_, err := cli.Request(context.Background(), "orders", "slow", message.Args{})
	var te *rpcerror.TimeoutError
	if !errors.As(err, &te) || te.Timeout != 15*time.Millisecond {
		t.Fatalf("expect configured timeout, got %v", err)
	}
}

func TestRequestNoResponders(t *testing.T) {
	bus := transport.NewLoopback()
	cli := newTestClient(bus)

	_, err := cli.Request(context.Background(), "orders", "get_status", message.Positional("A1"))
	if !errors.Is(err, rpcerror.ErrNoResponders) {
		t.Fatalf("expect ErrNoResponders, got %v", err)
	}
	assertReleased(t, bus)
}

func TestRequestMalformedReply(t *testing.T) {
	for name, data := range map[string]string{
		"empty":     "",
		"garbage":   "not json",
		"ambiguous": `{"success":true,"result":1,"error":"ValueError"}`,
	} {
		t.Run(name, func(t *testing.T) {
			bus := transport.NewLoopback()
			raw(bus, "orders.get_status", data)
			cli := newTestClient(bus)

			_, err := cli.Request(context.Background(), "orders", "get_status", message.Args{})
			if !errors.Is(err, rpcerror.ErrDecoding) {
				t.Fatalf("expect ErrDecoding, got %v", err)
			}
			if bus.Dials() != 1 || bus.Closes() != 1 {
				t.Fatalf("expect exactly one release, got %d/%d", bus.Dials(), bus.Closes())
			}
		})
	}
}

type unencodable struct{}

func (unencodable) MarshalJSON() ([]byte, error) { return nil, errors.New("cannot encode") }

func TestRequestEncodingError(t *testing.T) {
	bus := transport.NewLoopback()
	cli := newTestClient(bus)

	_, err := cli.Request(context.Background(), "orders", "get_status", message.Positional(unencodable{}))
	if !errors.Is(err, rpcerror.ErrEncoding) {
		t.Fatalf("expect ErrEncoding, got %v", err)
	}
	if bus.Dials() != 0 {
		t.Fatalf("nothing should be dialed for an unencodable call, got %d", bus.Dials())
	}
}

func TestConnectionErrors(t *testing.T) {
	bus := transport.NewLoopback()
	cli := New(config.Static(config.Settings{}), WithDialer(bus))
	if _, err := cli.Request(context.Background(), "orders", "get_status", message.Args{}); !errors.Is(err, rpcerror.ErrConnection) {
		t.Fatalf("expect ErrConnection without servers, got %v", err)
	}

	bus.FailDial(errors.New("connection refused"))
	cli = newTestClient(bus)
	if err := cli.Publish(context.Background(), "events", "created", message.Args{}); !errors.Is(err, rpcerror.ErrConnection) {
		t.Fatalf("expect ErrConnection, got %v", err)
	}
}

func TestInvalidSubject(t *testing.T) {
	bus := transport.NewLoopback()
	cli := newTestClient(bus)

	for _, ns := range []string{"", "orders.*", "bad ns"} {
		if _, err := cli.Request(context.Background(), ns, "get_status", message.Args{}); !errors.Is(err, rpcerror.ErrInvalidSubject) {
			t.Fatalf("namespace %q: expect ErrInvalidSubject, got %v", ns, err)
		}
	}
	if bus.Dials() != 0 {
		t.Fatalf("nothing should be dialed, got %d", bus.Dials())
	}
}

func TestPublish(t *testing.T) {
	bus := transport.NewLoopback()
	cli := newTestClient(bus)

	if err := cli.Publish(context.Background(), "events", "order_created", message.Keyword("order_id", 42)); err != nil {
		t.Fatal(err)
	}
	published := bus.Published()
	if len(published) != 1 || published[0].Subject != "events.order_created" {
		t.Fatalf("unexpected publishes %v", published)
	}
	if len(bus.Durable()) != 0 {
		t.Fatal("plain publish went through the durable path")
	}
	assertReleased(t, bus)
}

func TestPublishDurable(t *testing.T) {
	bus := transport.NewLoopback()
	cli := newTestClient(bus)

	// nobody subscribes on events.js.order_created
	if err := cli.PublishDurable(context.Background(), "events", "order_created", message.Keyword("order_id", 42)); err != nil {
		t.Fatal(err)
	}

	durable := bus.Durable()
	if len(durable) != 1 || durable[0].Subject != "events.js.order_created" {
		t.Fatalf("unexpected durable publishes %v", durable)
	}
	var call message.Call
	if err := (&codec.JSONCodec{}).Decode(durable[0].Data, &call); err != nil {
		t.Fatal(err)
	}
	if call.Method != "order_created" || call.Kwargs["order_id"] != float64(42) {
		t.Fatalf("unexpected call %+v", call)
	}
	if len(bus.Published()) != 0 || len(bus.Requests()) != 0 {
		t.Fatal("durable publish should send exactly one message")
	}
	assertReleased(t, bus)
}

func TestQualifiedSubjects(t *testing.T) {
	bus := transport.NewLoopback()
	reply(bus, "svc.orders.rpc", func(call *message.Call) (any, error) {
		return call.Method, nil
	})
	s := config.Settings{Server: "loop://local", SubjectStyle: "qualified"}
	cli := New(config.Static(s), WithDialer(bus))

	var method string
	if err := cli.Call(context.Background(), "svc.orders.rpc", "get_status", message.Args{}, &method); err != nil {
		t.Fatal(err)
	}
	if method != "get_status" {
		t.Fatalf("method should travel in the envelope, got %q", method)
	}
	if err := cli.PublishDurable(context.Background(), "svc.orders.events", "created", message.Args{}); err != nil {
		t.Fatal(err)
	}
	if got := bus.Durable(); got[0].Subject != "svc.orders.events.js" {
		t.Fatalf("durable publish should append the js segment, got %q", got[0].Subject)
	}
}

func TestZstdCodecFromSettings(t *testing.T) {
	bus := transport.NewLoopback()
	var contentType string
	reply(bus, "orders.get_status", func(*message.Call) (any, error) { return "SHIPPED", nil })
	s := config.Settings{Server: "loop://local", Codec: "json+zstd"}
	cli := New(config.Static(s), WithDialer(bus), WithMiddleware(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, msg *message.Msg) (*message.Msg, error) {
			contentType = msg.Header[message.HeaderContentType]
			return next(ctx, msg)
		}
	}))

	var status string
	if err := cli.Call(context.Background(), "orders", "get_status", message.Args{}, &status); err != nil {
		t.Fatal(err)
	}
	if status != "SHIPPED" || contentType != "json+zstd" {
		t.Fatalf("got %q over %q", status, contentType)
	}

	cli = New(config.Static(config.Settings{Server: "loop://local", Codec: "xml"}), WithDialer(bus))
	if _, err := cli.Request(context.Background(), "orders", "get_status", message.Args{}); !errors.Is(err, rpcerror.ErrEncoding) {
		t.Fatalf("expect ErrEncoding for unknown codec, got %v", err)
	}
}

func TestHeadersAndMiddleware(t *testing.T) {
	bus := transport.NewLoopback()
	reply(bus, "orders.get_status", func(*message.Call) (any, error) { return "ok", nil })

	core, logs := observer.New(zapcore.DebugLevel)
	cli := newTestClient(bus, WithLogger(zap.New(core)), WithMiddleware(middleware.RequestID()))

	if _, err := cli.Request(context.Background(), "orders", "get_status", message.Args{}, WithHeader("Tenant", "acme")); err != nil {
		t.Fatal(err)
	}
	req := bus.Requests()[0]
	if req.Header["Tenant"] != "acme" || req.Header[message.HeaderRequestID] == "" {
		t.Fatalf("unexpected headers %v", req.Header)
	}
	if logs.FilterMessage("rpc call").Len() != 1 {
		t.Fatalf("expect one call log, got %v", logs.All())
	}
}

func TestRateLimitedCallNotDialed(t *testing.T) {
	bus := transport.NewLoopback()
	reply(bus, "orders.get_status", func(*message.Call) (any, error) { return "ok", nil })
	cli := newTestClient(bus, WithMiddleware(middleware.RateLimit(0.001, 1)))

	if _, err := cli.Request(context.Background(), "orders", "get_status", message.Args{}); err != nil {
		t.Fatal(err)
	}
	if _, err := cli.Request(context.Background(), "orders", "get_status", message.Args{}); !errors.Is(err, rpcerror.ErrRateLimited) {
		t.Fatalf("expect ErrRateLimited, got %v", err)
	}
	// the rejected call never reached the server
	if bus.Dials() != 1 {
		t.Fatalf("expect one dial, got %d", bus.Dials())
	}
	assertReleased(t, bus)
}

func TestSettingsReadPerCall(t *testing.T) {
	bus := transport.NewLoopback()
	reply(bus, "orders.get_status", func(*message.Call) (any, error) { return "ok", nil })

	loads := 0
	provider := config.ProviderFunc(func(context.Context) (config.Settings, error) {
		loads++
		return config.Settings{Server: "loop://local"}, nil
	})
	cli := New(provider, WithDialer(bus))

	for i := 0; i < 3; i++ {
		if _, err := cli.Request(context.Background(), "orders", "get_status", message.Args{}); err != nil {
			t.Fatal(err)
		}
	}
	if loads != 3 {
		t.Fatalf("expect settings loaded once per call, got %d", loads)
	}
}

func TestSyncAdapters(t *testing.T) {
	bus := transport.NewLoopback()
	reply(bus, "orders.get_status", func(*message.Call) (any, error) { return "SHIPPED", nil })
	cli := newTestClient(bus)

	result, err := cli.RequestSync("orders", "get_status", message.Positional("A1"))
	if err != nil || string(result) != `"SHIPPED"` {
		t.Fatalf("RequestSync: %s, %v", result, err)
	}
	var status string
	if err := cli.CallSync("orders", "get_status", message.Positional("A1"), &status); err != nil || status != "SHIPPED" {
		t.Fatalf("CallSync: %q, %v", status, err)
	}
	if err := cli.PublishSync("events", "created", message.Args{}); err != nil {
		t.Fatal(err)
	}
	if err := cli.PublishDurableSync("events", "created", message.Args{}); err != nil {
		t.Fatal(err)
	}
	if len(bus.Published()) != 1 || len(bus.Durable()) != 1 {
		t.Fatal("sync publishes did not reach the bus")
	}
	assertReleased(t, bus)
}

func TestGo(t *testing.T) {
	bus := transport.NewLoopback()
	reply(bus, "orders.get_status", func(call *message.Call) (any, error) { return call.Args[0], nil })
	cli := newTestClient(bus)

	done := make(chan *Call, 3)
	ids := []string{"A1", "A2", "A3"}
	replies := make([]string, len(ids))
	for i, id := range ids {
		cli.Go(context.Background(), "orders", "get_status", message.Positional(id), &replies[i], done)
	}
	for range ids {
		select {
		case call := <-done:
			if call.Error != nil {
				t.Fatal(call.Error)
			}
		case <-time.After(time.Second):
			t.Fatal("async call never finished")
		}
	}
	for i, id := range ids {
		if replies[i] != id {
			t.Fatalf("reply %d: expect %s, got %s", i, id, replies[i])
		}
	}
	assertReleased(t, bus)
}

func TestGoUnbufferedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expect panic for an unbuffered done channel")
		}
	}()
	newTestClient(transport.NewLoopback()).Go(context.Background(), "orders", "x", message.Args{}, nil, make(chan *Call))
}
