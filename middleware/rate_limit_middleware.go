package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"sqlgate/message"
)

// ErrRateLimited is returned when the token bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit rejects calls beyond r per second with a burst allowance, using
// a token bucket shared across all connections.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Result, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, call)
		}
	}
}
