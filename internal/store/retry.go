package store

import (
	"context"
	"fmt"
	"time"
)

const (
	initialRetryDelay = 5 * time.Millisecond
	maxRetryDelay     = 250 * time.Millisecond
)

// RetryOnConflict runs attempt until it succeeds, fails with an error that
// isConflict does not recognise, or has been tried maxRetries+1 times.
// Exhaustion is reported as ErrConflict wrapping the last conflict.
func RetryOnConflict(ctx context.Context, maxRetries int, isConflict func(error) bool, attempt func() error) error {
	delay := initialRetryDelay
	var err error
	for i := 0; i <= maxRetries; i++ {
		err = attempt()
		if err == nil || !isConflict(err) {
			return err
		}
		if i == maxRetries {
			break
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		if delay < maxRetryDelay {
			delay *= 2
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
