package service

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy computes the back-off between attempts of a failed phase:
// BaseDelay * Multiplier^(attempt-1), capped at MaxDelay, then jittered.
type RetryPolicy struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0
	Multiplier   float64
}

// DefaultRetryPolicy returns 1s doubling up to 30s with 20% jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
		Multiplier:   2.0,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithBaseDelay sets the first delay.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.BaseDelay = d }
}

// WithMaxDelay caps the delay.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxDelay = d }
}

// WithJitter sets the jitter factor.
func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) { p.JitterFactor = factor }
}

// NewRetryPolicy creates a retry policy from the defaults plus opts.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait sleeps for the delay of attempt. It returns the context error if ctx
// ends first.
func (p *RetryPolicy) Wait(ctx context.Context, attempt int) error {
	delay := p.CalculateDelay(attempt)
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

// CalculateDelay returns the jittered delay for attempt (1-based).
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	attempt = max(attempt, 1)
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 {
		delay = math.Min(delay, float64(p.MaxDelay))
	}
	if p.JitterFactor > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.JitterFactor
	}
	return time.Duration(delay)
}
