package replicate

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/pkg/errors"
)

// ── Retry harness (C1) ─────────────────────────────────────
// Bounded exponential-backoff retry over source-driver failures, with
// classification: transient errors are retried, duplicate-key and
// cursor-invalidated errors are re-raised immediately, and unknown error
// kinds propagate uncaught.

const (
	// MaxRetryAttempts is the reference attempt bound.
	MaxRetryAttempts = 10
	retryBaseDelay   = 500 * time.Millisecond
	retryMultiplier  = 1.5
)

// WithRetries runs op, retrying on transient failures with delay
// 0.5*1.5^attempt seconds, up to MaxRetryAttempts attempts.
//
// A duplicate-key or cursor-invalidated error is re-raised on first
// sight. After MaxRetryAttempts exhausted attempts on transient errors,
// WithRetries gives up and returns nil — the reference policy is
// best-effort, not "raise on exhaustion" (see spec.md §9's open
// question; this implementation makes that policy explicit rather than
// leaving it implicit in silent exception-swallowing).
func WithRetries(ctx context.Context, label string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < MaxRetryAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		switch Classify(err) {
		case KindDuplicateKey, KindCursorInvalidated:
			return err
		case KindTransient:
			lastErr = err
			delay := retryDelay(attempt)
			log.Printf("retry: %s attempt %d/%d failed, retrying in %s: %v", label, attempt+1, MaxRetryAttempts, delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			// Unknown kind: not caught, propagate.
			return err
		}
	}

	log.Printf("retry: %s exhausted %d attempts, giving up: %v", label, MaxRetryAttempts, errors.Wrap(lastErr, "retries exhausted"))
	return nil
}

func retryDelay(attempt int) time.Duration {
	seconds := 0.5 * math.Pow(retryMultiplier, float64(attempt))
	return time.Duration(seconds * float64(time.Second))
}
