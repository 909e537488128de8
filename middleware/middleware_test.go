package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"sqlgate/message"
)

func echoDispatch(ctx context.Context, call *message.Call) (*message.Result, error) {
	return &message.Result{Method: call.Method, Payload: []byte("ok")}, nil
}

func slowDispatch(ctx context.Context, call *message.Call) (*message.Result, error) {
	time.Sleep(200 * time.Millisecond)
	return &message.Result{Method: call.Method, Payload: []byte("ok")}, nil
}

func TestLogging(t *testing.T) {
	dispatch := Logging(zap.NewNop())(echoDispatch)

	result, err := dispatch(context.Background(), &message.Call{Method: "Execute"})
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if string(result.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", result.Payload)
	}
}

func TestTimeoutPass(t *testing.T) {
	dispatch := Timeout(500 * time.Millisecond)(echoDispatch)

	if _, err := dispatch(context.Background(), &message.Call{Method: "Execute"}); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	dispatch := Timeout(50 * time.Millisecond)(slowDispatch)

	_, err := dispatch(context.Background(), &message.Call{Method: "Execute"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect ErrTimeout, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 pass, the 3rd is rejected.
	dispatch := RateLimit(1, 2)(echoDispatch)
	call := &message.Call{Method: "Execute"}

	for i := 0; i < 2; i++ {
		if _, err := dispatch(context.Background(), call); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	_, err := dispatch(context.Background(), call)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got: %v", err)
	}
}

func TestRetry(t *testing.T) {
	var attempts atomic.Int32
	flaky := func(ctx context.Context, call *message.Call) (*message.Result, error) {
		if attempts.Add(1) < 3 {
			return nil, ErrTimeout
		}
		return &message.Result{Method: call.Method}, nil
	}

	dispatch := Retry(3, time.Millisecond, nil)(flaky)

	if _, err := dispatch(context.Background(), &message.Call{Method: "Execute"}); err != nil {
		t.Fatalf("expect retries to succeed, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("expect 3 attempts, got %d", attempts.Load())
	}
}

func TestRetryNonRetryable(t *testing.T) {
	var attempts atomic.Int32
	failed := errors.New("constraint violated")
	failing := func(ctx context.Context, call *message.Call) (*message.Result, error) {
		attempts.Add(1)
		return nil, failed
	}

	dispatch := Retry(3, time.Millisecond, nil)(failing)

	if _, err := dispatch(context.Background(), &message.Call{Method: "Execute"}); !errors.Is(err, failed) {
		t.Fatalf("expect the original error, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("non-retryable errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestChain(t *testing.T) {
	chained := Chain(Logging(zap.NewNop()), Timeout(500*time.Millisecond))
	dispatch := chained(echoDispatch)

	result, err := dispatch(context.Background(), &message.Call{Method: "Execute"})
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if result == nil {
		t.Fatal("expect non-nil result")
	}
}
