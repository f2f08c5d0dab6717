package webhook

import "time"

// DefaultMaxAttempts is the initial try plus three retries.
const DefaultMaxAttempts = 4

// retryPolicy is the attempt-counter state machine behind a delivery:
// attempt numbers, next-delay computation and the terminal decision live
// here, independent of any goroutine or timer plumbing.
type retryPolicy struct {
	attempt     int // number of attempts already made
	maxAttempts int
	baseDelay   time.Duration
}

func newRetryPolicy(maxAttempts int, baseDelay time.Duration) *retryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	return &retryPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay}
}

// NextAttempt returns the 1-based number of the attempt about to run,
// or false when the budget is exhausted.
func (p *retryPolicy) NextAttempt() (int, bool) {
	if p.attempt >= p.maxAttempts {
		return 0, false
	}
	p.attempt++
	return p.attempt, true
}

// Backoff returns the delay to sleep before the next attempt: the base
// delay doubled per completed attempt (2s, 4s, 8s with the defaults).
func (p *retryPolicy) Backoff() time.Duration {
	d := p.baseDelay
	for i := 1; i < p.attempt; i++ {
		d *= 2
	}
	return d
}
