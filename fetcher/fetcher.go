package fetcher

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/costray/costray/cache"
	"github.com/costray/costray/provider"
	"github.com/costray/costray/resilience"
)

// Fetcher wraps cost-data fetches with the tiered cache and the resilience
// stack: cache read-through first, then rate limiter, circuit breaker and
// backoff retry around the actual provider call, then write-back through
// all cache tiers.
//
// One circuit breaker is kept per provider name, created lazily, so one
// flaky provider trips only its own circuit. The rate limiter is shared
// across providers. Concurrent misses on the same key are collapsed into a
// single provider call by default.
type Fetcher struct {
	cache   *cache.Tiered
	limiter *resilience.RateLimiter
	retry   resilience.RetryConfig
	brkCfg  resilience.CircuitBreakerConfig
	logger  zerolog.Logger
	dedupe  bool
	group   singleflight.Group

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRateLimiter shares the given limiter across this fetcher's provider
// calls. Without it, calls are not rate limited.
func WithRateLimiter(rl *resilience.RateLimiter) FetcherOption {
	return func(f *Fetcher) { f.limiter = rl }
}

// WithRetryConfig sets the retry budget and backoff schedule.
func WithRetryConfig(cfg resilience.RetryConfig) FetcherOption {
	return func(f *Fetcher) { f.retry = cfg }
}

// WithBreakerConfig sets the configuration applied to each per-provider
// circuit breaker.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) FetcherOption {
	return func(f *Fetcher) { f.brkCfg = cfg }
}

// WithLogger sets the logger for retry and degradation warnings.
func WithLogger(l zerolog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// WithoutSingleflight disables same-key miss deduplication. With dedupe off,
// concurrent misses on one key each contact the provider.
func WithoutSingleflight() FetcherOption {
	return func(f *Fetcher) { f.dedupe = false }
}

// New creates a Fetcher over the given tiered cache.
func New(c *cache.Tiered, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		cache:    c,
		retry:    resilience.DefaultRetryConfig(),
		brkCfg:   resilience.DefaultCircuitBreakerConfig(),
		logger:   zerolog.Nop(),
		dedupe:   true,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.retry = f.retry.Normalized()
	if f.retry.RetryIf == nil {
		f.retry.RetryIf = provider.Retryable
	}
	return f
}

// Breaker returns the circuit breaker guarding the named provider,
// creating it on first use.
func (f *Fetcher) Breaker(providerName string) *resilience.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	br, ok := f.breakers[providerName]
	if !ok {
		br = resilience.NewCircuitBreaker(f.brkCfg)
		f.breakers[providerName] = br
	}
	return br
}

// FetchCost derives the cache key from the query and fetches through the
// cache and resilience stack.
func (f *Fetcher) FetchCost(ctx context.Context, q provider.CostQuery, call provider.CallFunc) (*provider.CostData, error) {
	key := cache.CostDataKey(q.Provider, q.Start, q.End, q.Service, q.Region)
	return f.Fetch(ctx, key, q.Provider, call)
}

// Fetch returns the cached value for key if any tier holds it; otherwise it
// invokes call through the limiter, the provider's circuit breaker and the
// retry loop, writes a successful result back through all cache tiers, and
// returns it.
//
// Failure modes surface as typed errors the caller can branch on:
// resilience.ErrCircuitOpen when the provider circuit is open, a
// *resilience.RetryExhaustedError wrapping the last provider error when the
// retry budget runs out, and the provider error itself when it is not
// retryable (auth failures).
func (f *Fetcher) Fetch(ctx context.Context, key, providerName string, call provider.CallFunc) (*provider.CostData, error) {
	found, data, err := cache.Get[*provider.CostData](ctx, f.cache, key)
	if err != nil {
		// A corrupt or undecodable entry is a miss; the fresh fetch below
		// overwrites it.
		f.logger.Warn().Err(err).Str("key", key).Msg("cache decode failed, refetching")
	} else if found {
		return data, nil
	}

	v, err := f.miss(ctx, key, providerName, func(ctx context.Context) (any, error) {
		return call(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*provider.CostData), nil
}

// FetchAs is Fetch for non-cost payloads (analysis results, connectivity
// probes): the same cache read-through and resilience stack around an
// arbitrary typed operation.
func FetchAs[T any](ctx context.Context, f *Fetcher, key, providerName string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	found, val, err := cache.Get[T](ctx, f.cache, key)
	if err != nil {
		f.logger.Warn().Err(err).Str("key", key).Msg("cache decode failed, refetching")
	} else if found {
		return val, nil
	}

	v, err := f.miss(ctx, key, providerName, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// miss runs the resilient fetch for a key that no cache tier holds,
// collapsing concurrent same-key misses when dedupe is on.
func (f *Fetcher) miss(ctx context.Context, key, providerName string, call func(context.Context) (any, error)) (any, error) {
	if !f.dedupe {
		return f.fetchMiss(ctx, key, providerName, call)
	}
	// The shared call runs under the first caller's context; a later
	// caller's cancellation only detaches that caller.
	v, err, _ := f.group.Do(key, func() (any, error) {
		return f.fetchMiss(ctx, key, providerName, call)
	})
	return v, err
}

func (f *Fetcher) fetchMiss(ctx context.Context, key, providerName string, call func(context.Context) (any, error)) (any, error) {
	br := f.Breaker(providerName)
	policy := f.retry.Policy()

	var lastErr error
	for attempt := 1; attempt <= f.retry.MaxTries; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Acquire(ctx); err != nil {
				return nil, err
			}
		}

		// An open circuit fails the whole fetch immediately: retrying
		// locally cannot help before the breaker's timeout, and must not
		// generate provider load.
		if err := br.Allow(); err != nil {
			return nil, err
		}

		data, err := call(ctx)
		if err == nil {
			br.RecordSuccess()
			if serr := f.cache.Set(ctx, key, data, 0); serr != nil {
				f.logger.Warn().Err(serr).Str("key", key).Msg("cache write-back failed")
			}
			return data, nil
		}

		br.RecordFailure()
		lastErr = err

		if !f.retry.ShouldRetry(err) {
			// Not transient (e.g. bad credentials); surface as-is.
			return nil, err
		}
		if attempt == f.retry.MaxTries {
			break
		}

		delay := policy.Delay(attempt)
		f.logger.Warn().Err(err).
			Str("provider", providerName).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("provider call failed, retrying")
		if err := resilience.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &resilience.RetryExhaustedError{Attempts: f.retry.MaxTries, Err: lastErr}
}
