package resilience

import (
	"math"
	"time"
)

// Policy decides whether a failed queue job should be retried and with what
// delay. It layers the domain retry rules on top of the queue transport's own
// attempt counter: a job is retried only while the error is transient and the
// attempt count is below MaxAttempts.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the backoff for the first retry; the delay doubles per
	// attempt. Default: 5s.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Default: 5m.
	MaxDelay time.Duration
}

// DefaultPolicy returns the retry policy used for all collaborator-facing
// queue consumers.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		MaxDelay:    5 * time.Minute,
	}
}

// Decision is the outcome of classifying one failure.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide classifies err for the given 1-based attempt number. Non-retryable
// errors (permanent classification) and exhausted attempts both yield
// Retry=false, which means the owning status must be finalized as failed
// before the error is re-raised to the queue.
func (p Policy) Decide(err error, attempt int) Decision {
	if err == nil {
		return Decision{}
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	if !IsTransient(err) {
		return Decision{Retry: false}
	}
	if attempt >= maxAttempts {
		return Decision{Retry: false}
	}

	return Decision{Retry: true, Delay: p.backoff(attempt)}
}

// Backoff returns the delay to wait after the given 1-based attempt fails.
// Queue transports with their own retry scheduling use this directly.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.backoff(attempt)
}

func (p Policy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 5 * time.Second
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}

	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	return time.Duration(delay)
}
