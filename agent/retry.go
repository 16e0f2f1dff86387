package agent

import (
	"context"
	"math/rand/v2"
	"time"
)

// backoffDelay returns the exponential delay with ±20% jitter before retry
// number attempt (0 based).
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if maxDelay < base {
		maxDelay = base
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}

	jitter := 0.8 + rand.Float64()*0.4

	return time.Duration(float64(delay) * jitter)
}

// sleepContext waits for delay unless ctx is done first.
func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
