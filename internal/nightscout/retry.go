package nightscout

import (
	"math/rand"
	"time"
)

// RetryPolicy controls how the client retries transient failures.
// Auth and validation failures are never retried regardless of policy.
type RetryPolicy struct {
	// MaxAttempts is the number of additional attempts after the first
	// request fails.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; each subsequent
	// retry doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// Jitter returns a random addition to a computed delay. Nil disables
	// jitter, which tests use for determinism.
	Jitter func(max time.Duration) time.Duration
}

// DefaultRetryPolicy returns the production policy: 3 retries, 500ms base
// delay doubling up to 8s, with up to 25% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// ZeroDelayPolicy retries immediately. Used in tests.
func ZeroDelayPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts}
}

// Delay computes the backoff before retry number attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter != nil {
		delay += p.Jitter(delay / 4)
	}
	return delay
}
