package middleware

import (
	"context"
	"errors"
	"time"

	"sqlgate/message"
)

// ErrTimeout is returned when a call exceeds the middleware's deadline. It
// carries no protocol context, so the handler serves it through the opaque
// normalization path.
var ErrTimeout = errors.New("request timed out")

// Timeout bounds the time a single dispatch may take. The dispatch goroutine
// keeps running after the deadline; only the response is abandoned.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Result, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				result *message.Result
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, call)
				done <- outcome{result: result, err: err}
			}()

			select {
			case out := <-done:
				return out.result, out.err
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}
	}
}
