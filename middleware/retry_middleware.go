package middleware

import (
	"context"
	"errors"
	"time"

	"sqlgate/message"
)

// Retry re-dispatches a failed call up to maxRetries times with exponential
// backoff. Only errors accepted by retryable are retried; when retryable is
// nil, only timeouts are. Calls that mutate connection state should not be
// wrapped with this.
func Retry(maxRetries int, baseDelay time.Duration, retryable func(error) bool) Middleware {
	if retryable == nil {
		retryable = func(err error) bool {
			return errors.Is(err, ErrTimeout)
		}
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Result, error) {
			result, err := next(ctx, call)
			for i := 0; i < maxRetries && err != nil && retryable(err); i++ {
				time.Sleep(baseDelay * time.Duration(1<<i)) // Exponential backoff
				result, err = next(ctx, call)
			}
			return result, err
		}
	}
}
