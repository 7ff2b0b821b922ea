package circulation

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 4
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrNilStore is returned when NewService gets no store.
	ErrNilStore = errors.New("circulation store must not be nil")
)

// retryPolicy retries a borrow attempt with exponential backoff.
type retryPolicy struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

// run executes fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Only ErrConflict is retried. Delays are baseDelay,
// baseDelay*2, baseDelay*4, ... plus jitter. It returns the number of attempts made.
func (p retryPolicy) run(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, delay time.Duration)) (int, error) {
	var lastErr error

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * p.jitterFactor //nolint:gosec // math/rand is sufficient for jitter
			backoff := delay + time.Duration(jitter)

			if onRetry != nil {
				onRetry(attempt, backoff)
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return attempt, ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}

		if !errors.Is(lastErr, ErrConflict) {
			return attempt + 1, lastErr
		}
	}

	return p.maxAttempts, lastErr
}
