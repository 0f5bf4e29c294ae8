package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures a token-bucket rate limiter.
type RateLimiterConfig struct {
	// Rate is the steady-state refill in tokens per second.
	Rate float64

	// Burst is the bucket capacity: the number of calls that may proceed
	// back to back after an idle period.
	Burst int
}

// DefaultRateLimiterConfig returns the defaults used for provider calls.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{Rate: 10, Burst: 5}
}

func (c RateLimiterConfig) normalized() RateLimiterConfig {
	def := DefaultRateLimiterConfig()
	if c.Rate <= 0 {
		c.Rate = def.Rate
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	return c
}

// RateLimiter is a token-bucket limiter capping outbound request rate.
// Refill is computed lazily from elapsed time on each acquire; there is no
// background goroutine. Safe for concurrent use.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter with a full bucket.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	cfg = cfg.normalized()
	return &RateLimiter{
		cfg:        cfg,
		tokens:     float64(cfg.Burst),
		lastRefill: time.Now(),
	}
}

// TryAcquire takes a token if one is available, without blocking.
func (rl *RateLimiter) TryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Acquire blocks until a token is available or the context is done. The
// wait is computed from the token deficit rather than polled.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rl.TryAcquire() {
			return nil
		}

		rl.mu.Lock()
		deficit := 1 - rl.tokens
		wait := time.Duration(deficit / rl.cfg.Rate * float64(time.Second))
		rl.mu.Unlock()
		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tokens returns the number of tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

func (rl *RateLimiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	rl.lastRefill = now
	rl.tokens += elapsed.Seconds() * rl.cfg.Rate
	if rl.tokens > float64(rl.cfg.Burst) {
		rl.tokens = float64(rl.cfg.Burst)
	}
}
