package fetcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/costray/costray/cache"
	"github.com/costray/costray/provider"
	"github.com/costray/costray/resilience"
)

func newTestCache(t *testing.T) *cache.Tiered {
	t.Helper()
	mem := cache.NewMemory(context.Background())
	t.Cleanup(func() { _ = mem.Close() })
	tc, err := cache.NewTiered([]cache.Tier{mem})
	assert.NoError(t, err)
	return tc
}

func fastRetry(tries int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxTries:  tries,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
		Jitter:    false,
	}
}

func costData(p string) *provider.CostData {
	return &provider.CostData{
		Provider: p,
		Total:    42.5,
		Currency: "USD",
		Services: []provider.ServiceCost{{Service: "compute", Amount: 42.5, Currency: "USD"}},
	}
}

func TestFetchSuccessPopulatesCache(t *testing.T) {
	tc := newTestCache(t)
	f := New(tc, WithRetryConfig(fastRetry(3)))

	var calls int32
	ctx := context.Background()
	data, err := f.Fetch(ctx, "cost_data:aws:jan", "aws", func(ctx context.Context) (*provider.CostData, error) {
		atomic.AddInt32(&calls, 1)
		return costData("aws"), nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42.5, data.Total)
	assert.Equal(t, int32(1), calls)

	found, cached, err := cache.Get[*provider.CostData](ctx, tc, "cost_data:aws:jan")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "aws", cached.Provider)
}

func TestFetchCacheHitSkipsCall(t *testing.T) {
	tc := newTestCache(t)
	f := New(tc)

	ctx := context.Background()
	assert.NoError(t, tc.Set(ctx, "cost_data:gcp:feb", costData("gcp"), 0))

	data, err := f.Fetch(ctx, "cost_data:gcp:feb", "gcp", func(ctx context.Context) (*provider.CostData, error) {
		t.Fatal("provider must not be called on a cache hit")
		return nil, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "gcp", data.Provider)
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	tc := newTestCache(t)
	f := New(tc, WithRetryConfig(fastRetry(3)))

	var calls int32
	ctx := context.Background()
	data, err := f.Fetch(ctx, "k", "aws", func(ctx context.Context) (*provider.CostData, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, provider.NewError(provider.KindNetwork, "aws", "timeout", nil)
		}
		return costData("aws"), nil
	})
	assert.NoError(t, err)
	assert.NotNil(t, data)
	assert.Equal(t, int32(3), calls)

	// The final success reset the breaker's failure streak.
	assert.Equal(t, 0, f.Breaker("aws").Failures())
}

func TestFetchRetryExhausted(t *testing.T) {
	tc := newTestCache(t)
	f := New(tc, WithRetryConfig(fastRetry(3)))

	cause := provider.NewError(provider.KindNetwork, "aws", "timeout", nil)
	var calls int32
	ctx := context.Background()
	_, err := f.Fetch(ctx, "k", "aws", func(ctx context.Context) (*provider.CostData, error) {
		atomic.AddInt32(&calls, 1)
		return nil, cause
	})

	var re *resilience.RetryExhaustedError
	assert.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, int32(3), calls)

	// Nothing was written back.
	found, _, gerr := cache.Get[*provider.CostData](ctx, tc, "k")
	assert.NoError(t, gerr)
	assert.False(t, found)

	// Every attempt counted against the breaker.
	assert.Equal(t, 3, f.Breaker("aws").Failures())
}

func TestFetchAuthErrorNotRetried(t *testing.T) {
	tc := newTestCache(t)
	f := New(tc, WithRetryConfig(fastRetry(3)))

	authErr := provider.NewError(provider.KindAuth, "azure", "expired token", nil)
	var calls int32
	_, err := f.Fetch(context.Background(), "k", "azure", func(ctx context.Context) (*provider.CostData, error) {
		atomic.AddInt32(&calls, 1)
		return nil, authErr
	})

	// Surfaced raw, not wrapped in a retry-exhausted error.
	assert.ErrorIs(t, err, authErr)
	var re *resilience.RetryExhaustedError
	assert.False(t, errors.As(err, &re))
	assert.Equal(t, int32(1), calls)
}

func TestFetchOpenCircuitFailsFast(t *testing.T) {
	tc := newTestCache(t)
	f := New(tc,
		WithRetryConfig(fastRetry(1)),
		WithBreakerConfig(resilience.CircuitBreakerConfig{
			FailureThreshold: 1,
			OpenTimeout:      time.Minute,
		}),
	)

	ctx := context.Background()
	_, err := f.Fetch(ctx, "k1", "aws", func(ctx context.Context) (*provider.CostData, error) {
		return nil, provider.NewError(provider.KindNetwork, "aws", "down", nil)
	})
	assert.Error(t, err)
	assert.Equal(t, resilience.StateOpen, f.Breaker("aws").State())

	// A different key for the same provider trips on the open circuit
	// without invoking the call.
	_, err = f.Fetch(ctx, "k2", "aws", func(ctx context.Context) (*provider.CostData, error) {
		t.Fatal("call must not run while the circuit is open")
		return nil, nil
	})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestFetchBreakerPerProvider(t *testing.T) {
	tc := newTestCache(t)
	f := New(tc,
		WithRetryConfig(fastRetry(1)),
		WithBreakerConfig(resilience.CircuitBreakerConfig{
			FailureThreshold: 1,
			OpenTimeout:      time.Minute,
		}),
	)

	ctx := context.Background()
	_, err := f.Fetch(ctx, "k", "aws", func(ctx context.Context) (*provider.CostData, error) {
		return nil, provider.NewError(provider.KindNetwork, "aws", "down", nil)
	})
	assert.Error(t, err)

	// The gcp circuit is unaffected by the aws failures.
	data, err := f.Fetch(ctx, "k2", "gcp", func(ctx context.Context) (*provider.CostData, error) {
		return costData("gcp"), nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "gcp", data.Provider)
}

func TestFetchSingleflightCollapsesMisses(t *testing.T) {
	tc := newTestCache(t)
	f := New(tc)

	var calls int32
	start := make(chan struct{})
	call := func(ctx context.Context) (*provider.CostData, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return costData("aws"), nil
	}

	const n = 5
	var wg sync.WaitGroup
	results := make([]*provider.CostData, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			data, err := f.Fetch(context.Background(), "same-key", "aws", call)
			assert.NoError(t, err)
			results[i] = data
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls, "concurrent misses on one key should share one call")
	for _, r := range results {
		assert.NotNil(t, r)
		assert.Equal(t, "aws", r.Provider)
	}
}

func TestFetchWithoutSingleflight(t *testing.T) {
	tc := newTestCache(t)
	f := New(tc, WithoutSingleflight())

	var calls int32
	var inflight sync.WaitGroup
	inflight.Add(2)
	call := func(ctx context.Context) (*provider.CostData, error) {
		atomic.AddInt32(&calls, 1)
		inflight.Done()
		inflight.Wait()
		return costData("aws"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Fetch(context.Background(), "same-key", "aws", call)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(2), calls)
}

func TestFetchRateLimited(t *testing.T) {
	tc := newTestCache(t)
	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 50, Burst: 1})
	f := New(tc, WithRateLimiter(rl))

	ctx := context.Background()
	call := func(ctx context.Context) (*provider.CostData, error) {
		return costData("aws"), nil
	}

	_, err := f.Fetch(ctx, "k1", "aws", call)
	assert.NoError(t, err)

	// The bucket is empty; the second fetch waits for a refill (~20ms).
	start := time.Now()
	_, err = f.Fetch(ctx, "k2", "aws", call)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestFetchAs(t *testing.T) {
	tc := newTestCache(t)
	f := New(tc)

	type forecast struct {
		Month     string  `msgpack:"month"`
		Projected float64 `msgpack:"projected"`
	}

	key := cache.AnalysisKey("aws", "forecast", map[string]any{"months": 3})
	var calls int32
	ctx := context.Background()
	fn := func(ctx context.Context) (*forecast, error) {
		atomic.AddInt32(&calls, 1)
		return &forecast{Month: "2026-09", Projected: 1234.56}, nil
	}

	got, err := FetchAs(ctx, f, key, "aws", fn)
	assert.NoError(t, err)
	assert.Equal(t, 1234.56, got.Projected)

	// Second call is served from cache.
	got, err = FetchAs(ctx, f, key, "aws", fn)
	assert.NoError(t, err)
	assert.Equal(t, "2026-09", got.Month)
	assert.Equal(t, int32(1), calls)
}

func TestFetchCostDerivesKey(t *testing.T) {
	tc := newTestCache(t)
	f := New(tc)

	q := provider.CostQuery{
		Provider: "aws",
		Start:    time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()
	_, err := f.FetchCost(ctx, q, func(ctx context.Context) (*provider.CostData, error) {
		return costData("aws"), nil
	})
	assert.NoError(t, err)

	key := cache.CostDataKey(q.Provider, q.Start, q.End, q.Service, q.Region)
	found, _, err := cache.Get[*provider.CostData](ctx, tc, key)
	assert.NoError(t, err)
	assert.True(t, found)
}
