package remote

import (
	"context"
	"testing"
	"time"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/types"
)

func TestExecuteWithRetry_SucceedsAfterRetryableFailure(t *testing.T) {
	attempts := 0
	result, err := ExecuteWithRetry(context.Background(), nil, types.RequestContext{}, 3, time.Millisecond, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", syncerrors.Network("transient", nil)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithRetry() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("expected ok, got %q", result)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	attempts := 0
	_, err := ExecuteWithRetry(context.Background(), nil, types.RequestContext{}, 3, time.Millisecond, func() (string, error) {
		attempts++
		return "", syncerrors.InvalidArgument("bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestExecuteWithRetry_ExhaustsRetries(t *testing.T) {
	attempts := 0
	_, err := ExecuteWithRetry(context.Background(), nil, types.RequestContext{}, 2, time.Millisecond, func() (string, error) {
		attempts++
		return "", syncerrors.Network("still failing", nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
}

func TestExecuteWithRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	_, err := ExecuteWithRetry(ctx, nil, types.RequestContext{}, 3, 10*time.Millisecond, func() (string, error) {
		attempts++
		return "", syncerrors.Network("transient", nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected the retry loop to stop after the cancelled context is observed, got %d attempts", attempts)
	}
}
