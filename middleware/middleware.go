// Package middleware wraps the send step of a call.
//
// A HandlerFunc sends one message on the call's connection. Requests return
// the reply; publishes return a nil Msg.
package middleware

import (
	"context"

	"nats-rpc/message"
)

type HandlerFunc func(ctx context.Context, msg *message.Msg) (*message.Msg, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
// The first middleware runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
