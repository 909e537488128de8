package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sqlgate/message"
)

// Logging records every dispatched call: method, connection, duration, and
// the failure if there was one.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Result, error) {
			start := time.Now()
			result, err := next(ctx, call)

			fields := []zap.Field{
				zap.String("method", call.Method),
				zap.Duration("duration", time.Since(start)),
			}
			if call.ConnectionID != "" {
				fields = append(fields, zap.String("connectionId", call.ConnectionID))
			}
			if err != nil {
				logger.Warn("call failed", append(fields, zap.Error(err))...)
			} else {
				logger.Info("call served", fields...)
			}
			return result, err
		}
	}
}
