package research

import (
	"context"
	"time"
)

// writeWithRetry retries a store write with linear backoff. Transient storage
// blips must not abort the pipeline; callers decide whether exhaustion is
// fatal (status transitions) or tolerable (a lost streaming chunk).
func writeWithRetry(ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff * time.Duration(i+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
