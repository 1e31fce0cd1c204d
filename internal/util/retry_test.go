package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetry(t *testing.T) {
	retryUnit = time.Millisecond
	t.Cleanup(func() { retryUnit = time.Second })

	calls := 0
	got, err := WithRetry(context.Background(), 3, "jwks fetch", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("unavailable")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" || calls != 3 {
		t.Fatalf("WithRetry = %q, %v after %d calls", got, err, calls)
	}

	boom := errors.New("boom")
	_, err = WithRetry(context.Background(), 2, "jwks fetch", func(context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Errorf("final error should wrap the last failure, got %v", err)
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := WithRetry(ctx, 5, "usage db", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("locked")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("err = %v after %d calls, want context.Canceled after 1", err, calls)
	}
}
