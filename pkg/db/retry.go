package db

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a transaction is replayed after a
// serialization conflict.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	// OnRetry is called before each replay with the attempt number (1-based)
	// and the conflict that caused it.
	OnRetry func(attempt int, err error)
}

// RetryOnConflict runs fn and replays it while it fails with a conflict
// classified by IsConflictErr. The last conflict is returned once retries are
// exhausted; any other error is returned immediately.
func RetryOnConflict(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !IsConflictErr(err) || attempt >= policy.MaxRetries {
			return err
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, err)
		}

		wait := policy.Backoff * time.Duration(attempt+1)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
