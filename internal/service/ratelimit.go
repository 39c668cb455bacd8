package service

import (
	"context"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
)

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiterConfig configures a rate limiter.
type RateLimiterConfig struct {
	MaxTokens  float64 // bucket capacity
	RefillRate float64 // tokens added per second
}

// DefaultRateLimiterConfig returns default configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxTokens:  10,
		RefillRate: 1,
	}
}

// PerMinute builds a config allowing n calls per minute with a burst of
// up to n/6 (at least one).
func PerMinute(n int) RateLimiterConfig {
	if n <= 0 {
		return DefaultRateLimiterConfig()
	}
	burst := float64(n) / 6
	if burst < 1 {
		burst = 1
	}
	return RateLimiterConfig{MaxTokens: burst, RefillRate: float64(n) / 60}
}

// NewRateLimiter creates a new rate limiter. The bucket starts full.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = DefaultRateLimiterConfig().RefillRate
	}
	if cfg.MaxTokens < 1 {
		cfg.MaxTokens = 1
	}
	return &RateLimiter{
		tokens:     cfg.MaxTokens,
		maxTokens:  cfg.MaxTokens,
		refillRate: cfg.RefillRate,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a token is available or ctx ends.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}

		waitTime := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire attempts to acquire a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Available returns the current number of available tokens.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	r.lastRefill = now

	r.tokens = min(r.maxTokens, r.tokens+elapsed.Seconds()*r.refillRate)
}

// RateLimitedOracle paces calls to an Oracle.
type RateLimitedOracle struct {
	next    core.Oracle
	limiter *RateLimiter
}

// NewRateLimitedOracle wraps next. A nil limiter disables pacing.
func NewRateLimitedOracle(next core.Oracle, limiter *RateLimiter) *RateLimitedOracle {
	return &RateLimitedOracle{next: next, limiter: limiter}
}

// Ask waits for a token then delegates.
func (o *RateLimitedOracle) Ask(ctx context.Context, req core.OracleRequest) (*core.OracleResponse, error) {
	if o.limiter != nil {
		if err := o.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	return o.next.Ask(ctx, req)
}

// RateLimitedReasoner paces calls to a Reasoner.
type RateLimitedReasoner struct {
	next    core.Reasoner
	limiter *RateLimiter
}

// NewRateLimitedReasoner wraps next. A nil limiter disables pacing.
func NewRateLimitedReasoner(next core.Reasoner, limiter *RateLimiter) *RateLimitedReasoner {
	return &RateLimitedReasoner{next: next, limiter: limiter}
}

// Reason waits for a token then delegates.
func (r *RateLimitedReasoner) Reason(ctx context.Context, req core.ReasonRequest) (*core.ReasonResponse, error) {
	if r.limiter != nil {
		if err := r.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	return r.next.Reason(ctx, req)
}
