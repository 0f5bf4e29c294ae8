package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes the delay before each retry attempt: exponential
// doubling from BaseDelay, capped at MaxDelay. With Jitter the returned
// delay is uniformly randomized within [0, computed] ("full jitter") so a
// crowd of callers retrying a recovered provider does not stampede it in
// lockstep.
//
// The policy only computes delays; the retry loop belongs to the caller.
type BackoffPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool
}

// Delay returns the backoff before retrying after the given attempt
// (1-based: attempt 1 is the first failure).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		d = time.Duration(rand.Int64N(int64(d) + 1))
	}
	return d
}

// RetryConfig bundles the retry budget with the backoff schedule and the
// retry predicate. The loop itself lives in the caller (the fetcher).
type RetryConfig struct {
	// MaxTries is the total number of attempts, including the first.
	MaxTries int

	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Jitter enables full-jitter randomization of each delay.
	Jitter bool

	// RetryIf decides whether an error is worth another attempt. Nil means
	// every error is retried.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the retry defaults used for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:  3,
		BaseDelay: time.Second,
		MaxDelay:  60 * time.Second,
		Jitter:    true,
	}
}

// Normalized fills zero fields with defaults.
func (c RetryConfig) Normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxTries <= 0 {
		c.MaxTries = def.MaxTries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	return c
}

// Policy returns the backoff policy for this configuration.
func (c RetryConfig) Policy() BackoffPolicy {
	return BackoffPolicy{BaseDelay: c.BaseDelay, MaxDelay: c.MaxDelay, Jitter: c.Jitter}
}

// ShouldRetry applies the RetryIf predicate, defaulting to retry-all.
func (c RetryConfig) ShouldRetry(err error) bool {
	if c.RetryIf == nil {
		return err != nil
	}
	return c.RetryIf(err)
}

// Sleep waits for d or until the context is done, whichever comes first.
// Backoff sleeps must stay cancellable so a caller deadline aborts the
// retry loop promptly.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
