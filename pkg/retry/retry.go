package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy is an explicit backoff schedule: first wait InitialBackoff, then
// multiply by BackoffMultiplier per attempt, capped at MaxBackoff, for at
// most MaxAttempts tries. Failures beyond the budget surface to the caller.
type Policy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = Policy{
	MaxAttempts:       3,
	InitialBackoff:    100 * time.Millisecond,
	BackoffMultiplier: 2,
	MaxBackoff:        2 * time.Second,
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Do executes a function with retries according to the policy. Terminal
// errors (isTransient false) return immediately; context cancellation wins
// over any pending backoff sleep.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff
	multiplier := policy.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 2
	}

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		// Jittered backoff: backoff + random(0, 50% of backoff)
		sleepTime := backoff
		if half := int64(backoff / 2); half > 0 {
			sleepTime += time.Duration(rand.Int63n(half))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepTime):
			backoff = minDuration(time.Duration(float64(backoff)*multiplier), policy.MaxBackoff)
		}
	}

	return err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
