package middleware

import (
	"context"

	"github.com/google/uuid"

	"nats-rpc/message"
)

// RequestID stamps every message with a random request id header unless the
// caller already set one.
func RequestID() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.Msg) (*message.Msg, error) {
			if msg.Header[message.HeaderRequestID] == "" {
				msg.SetHeader(message.HeaderRequestID, uuid.NewString())
			}
			return next(ctx, msg)
		}
	}
}
