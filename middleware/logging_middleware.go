package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nats-rpc/message"
)

// Logging logs every message sent: op, subject, duration and error if any.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *message.Msg) (*message.Msg, error) {
			start := time.Now()
			resp, err := next(ctx, msg)

			fields := []zap.Field{
				zap.Stringer("op", msg.Op),
				zap.String("subject", msg.Subject),
				zap.String("method", msg.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if id := msg.Header[message.HeaderRequestID]; id != "" {
				fields = append(fields, zap.String("request_id", id))
			}
			if err != nil {
				logger.Warn("rpc call failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			logger.Debug("rpc call", fields...)
			return resp, nil
		}
	}
}
