package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"nats-rpc/message"
	"nats-rpc/rpcerror"
)

// RateLimit 创建一个基于令牌桶算法的限流中间件
// Messages over the limit fail with rpcerror.ErrRateLimited and are not sent.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.Msg) (*message.Msg, error) {
			if !limiter.Allow() {
				return nil, fmt.Errorf("%w: %s", rpcerror.ErrRateLimited, msg.Subject)
			}
			return next(ctx, msg)
		}
	}
}

// RateLimitWait is like RateLimit but waits for a token until ctx is done.
func RateLimitWait(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.Msg) (*message.Msg, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", rpcerror.ErrRateLimited, msg.Subject, err)
			}
			return next(ctx, msg)
		}
	}
}
