package remote

import (
	"context"
	"math"
	"math/rand"
	"time"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/logging"
	"github.com/lucidfs/davsync/internal/types"
)

// maxRetryDelay caps exponential backoff regardless of configured base delay.
const maxRetryDelay = 30 * time.Second

// ExecuteWithRetry runs fn, retrying transient failures (network errors and
// 429/5xx unexpectedStatus) up to maxRetries times with jittered exponential
// backoff. The Resource Manager runs its property fetch through this wrapper
// and adds no retry of its own; the Transfer Layer does not use it, and
// re-attempts a download only once, after an authenticationRequired failure.
func ExecuteWithRetry[T any](ctx context.Context, logger logging.Logger, reqCtx types.RequestContext, maxRetries int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	log := logger.WithTraceID(reqCtx.TraceID)
	log.Debug("remote operation starting",
		logging.F("requestType", string(reqCtx.RequestType)),
		logging.F("accountId", reqCtx.AccountID),
	)

	start := time.Now()
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			log.Warn("retrying remote operation", logging.F("attempt", attempt), logging.F("maxRetries", maxRetries))
		}

		result, lastErr = fn()
		if lastErr == nil {
			log.Debug("remote operation completed",
				logging.F("durationMs", time.Since(start).Milliseconds()),
				logging.F("attempts", attempt+1),
			)
			return result, nil
		}

		se, _ := syncerrors.As(lastErr)
		if se == nil || !se.Retryable() {
			log.Error("remote operation failed (non-retryable)", logging.F("error", lastErr.Error()))
			return result, lastErr
		}

		if attempt < maxRetries {
			delay := calculateBackoff(baseDelay, attempt)
			log.Warn("remote operation failed (retryable)",
				logging.F("attempt", attempt+1),
				logging.F("delayMs", delay.Milliseconds()),
				logging.F("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return result, syncerrors.Cancelled()
			case <-time.After(delay):
			}
		}
	}

	log.Error("remote operation failed after max retries",
		logging.F("attempts", maxRetries+1),
		logging.F("error", lastErr.Error()),
	)
	return result, lastErr
}

func calculateBackoff(baseDelay time.Duration, attempt int) time.Duration {
	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	jitterRange := delay / 4
	if jitterRange > 0 {
		jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
		delay += jitter
	}
	if delay < 0 {
		delay = baseDelay
	}
	return delay
}
