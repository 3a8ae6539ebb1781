// Package retry holds the backoff policy shared by the scheduler, the
// publish worker, and the durable queue. It is a pure function of the
// attempt count: this layer deliberately does not inspect failure types
// to decide retryability.
package retry

import (
	"time"
)

const DefaultBaseDelay = 60 * time.Second

// Policy maps an attempt count to the next delay and the retry decision.
type Policy struct {
	BaseDelay time.Duration
}

// NewPolicy returns a policy with the given base delay, falling back to
// the default when zero.
func NewPolicy(base time.Duration) Policy {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return Policy{BaseDelay: base}
}

// NextDelay returns baseDelay * 2^attempt.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// ShouldRetry reports whether another attempt is allowed.
func (p Policy) ShouldRetry(attempt, maxAttempts int) bool {
	return attempt < maxAttempts
}
