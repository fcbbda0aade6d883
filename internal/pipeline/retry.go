package pipeline

import (
	"context"
	"time"

	"agentjira/internal/gateway"
	"agentjira/internal/logging"
)

// backoff returns the delay after the given failed attempt (1-based):
// base * 2^(attempt-1), capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry invokes fn until it succeeds, returns a non-retryable error, or
// maxRetries retries are spent. It returns the number of invocations.
func withRetry[T any](ctx context.Context, e *Engine, it *item, stage Stage, maxRetries int, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	for attempt := 1; ; attempt++ {
		e.emit(it, stage, attempt, nil)

		callCtx, cancel := e.callContext(ctx)
		v, err := fn(callCtx, attempt)
		cancel()
		if err == nil {
			return v, attempt, nil
		}

		if attempt > maxRetries || !gateway.IsRetryable(err) || ctx.Err() != nil {
			return v, attempt, err
		}
		delay := backoff(e.backoffBase, e.backoffMax, attempt)
		it.log.Warn("%s attempt %d/%d failed, retrying in %v: %v", stage, attempt, maxRetries+1, delay, err)
		if serr := e.sleep(ctx, delay); serr != nil {
			logging.PipelineDebug("retry wait aborted: %v", serr)
			return v, attempt, err
		}
	}
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout > 0 {
		return context.WithTimeout(ctx, e.callTimeout)
	}
	return context.WithCancel(ctx)
}
