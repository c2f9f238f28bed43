package core

import (
	"math/rand"
	"time"
)

// computeBackoff returns the delay before the given retry attempt
// (0-indexed), exponential in base capped at maxDelay plus jitter in
// [0, base).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	if rng != nil && base > 0 {
		delay += time.Duration(rng.Int63n(int64(base)))
	}
	return delay
}

// isRetryable reports whether err should be retried under policy. A nil
// policy or nil Retryable func means no retries.
func isRetryable(policy *RetryPolicy, err error) bool {
	if policy == nil || policy.Retryable == nil {
		return false
	}
	return policy.Retryable(err)
}
