package gateway

import (
	"context"
	"time"

	gerrors "github.com/openloom/llmgate/pkg/errors"
)

// RetryPolicy governs repeat attempts against a single provider before the
// gateway gives up on it and fails over. Only transport failures and
// retryable upstream errors are repeated; client errors (4xx) never are.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries per provider, including the
	// first. Values below 1 behave as 1.
	MaxAttempts int
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
}

// DefaultRetryPolicy retries once after a short pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff:     200 * time.Millisecond,
	}
}

// do runs fn until it succeeds, exhausts the attempt budget, or hits a
// non-retryable error. The last error is returned.
func (p RetryPolicy) do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff):
			}
		}

		if err = fn(); err == nil {
			return nil
		}
		if !gerrors.IsRetryable(err) {
			return err
		}
	}
	return err
}
