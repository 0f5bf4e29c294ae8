package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/costray/costray/cache"
	"github.com/costray/costray/config"
	"github.com/costray/costray/fetcher"
	"github.com/costray/costray/provider"
	"github.com/costray/costray/resilience"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := config.Default()
	if len(os.Args) > 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [config.yaml]\n", os.Args[0])
		os.Exit(1)
	}
	if len(os.Args) == 2 {
		loaded, err := config.Load(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	ctx := context.Background()

	tiers, cleanup, err := buildTiers(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building cache tiers: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	tc, err := cache.NewTiered(tiers, cache.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building tiered cache: %v\n", err)
		os.Exit(1)
	}
	defer tc.Close()

	f := fetcher.New(tc,
		fetcher.WithLogger(logger),
		fetcher.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:  cfg.RateLimit.Rate,
			Burst: cfg.RateLimit.Burst,
		})),
		fetcher.WithRetryConfig(resilience.RetryConfig{
			MaxTries:  cfg.Retry.MaxTries,
			BaseDelay: cfg.Retry.BaseDelay.Std(),
			MaxDelay:  cfg.Retry.MaxDelay.Std(),
			Jitter:    cfg.Retry.Jitter,
		}),
		fetcher.WithBreakerConfig(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenTimeout:      cfg.Breaker.OpenTimeout.Std(),
		}),
	)

	// Demo query against a canned provider. Real billing SDK wrappers plug
	// in here as provider.CallFunc implementations.
	end := time.Now().Truncate(24 * time.Hour)
	query := provider.CostQuery{
		Provider:    "demo",
		Start:       end.AddDate(0, 0, -30),
		End:         end,
		Granularity: provider.GranularityDaily,
	}

	data, err := f.FetchCost(ctx, query, demoCall(query))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching cost data: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s cost %s to %s: %.2f %s across %d services\n",
		data.Provider,
		data.Start.Format(cache.DateLayout), data.End.Format(cache.DateLayout),
		data.Total, data.Currency, len(data.Services))

	stats := tc.Stats()
	for _, tier := range stats.Tiers {
		fmt.Printf("  tier %-6s hits=%d writes=%d errors=%d\n", tier.Name, tier.Hits, tier.Writes, tier.Errors)
	}
	fmt.Printf("  misses=%d promotions=%d hit_rate=%.0f%%\n", stats.Misses, stats.Promotions, stats.HitRate()*100)
}

// buildTiers assembles the enabled tiers, fastest first. An unreachable
// Redis only costs the L3 tier, not the run.
func buildTiers(ctx context.Context, cfg config.Config, logger zerolog.Logger) ([]cache.Tier, func(), error) {
	var tiers []cache.Tier
	cleanup := func() {}

	if cfg.Cache.L1.Enabled {
		tiers = append(tiers, cache.NewMemory(ctx,
			cache.WithTTL(cfg.Cache.L1.TTL.Std()),
			cache.WithMaxEntries(cfg.Cache.L1.MaxEntries),
			cache.WithLogger(logger),
		))
	}
	if cfg.Cache.L2.Enabled {
		disk, err := cache.NewSQLite(ctx, cfg.Cache.L2.Path,
			cache.WithTTL(cfg.Cache.L2.TTL.Std()),
			cache.WithMaxEntries(cfg.Cache.L2.MaxEntries),
			cache.WithLogger(logger),
		)
		if err != nil {
			return nil, cleanup, err
		}
		tiers = append(tiers, disk)
	}
	if cfg.Cache.L3.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.L3.Addr,
			Password: cfg.Cache.L3.Password,
			DB:       cfg.Cache.L3.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Cache.L3.Addr).Msg("redis unreachable, continuing without L3")
			client.Close()
		} else {
			tiers = append(tiers, cache.NewRedis(client,
				cache.WithTTL(cfg.Cache.L3.TTL.Std()),
				cache.WithPrefix(cfg.Cache.L3.KeyPrefix),
				cache.WithLogger(logger),
			))
			cleanup = func() { client.Close() }
		}
	}
	return tiers, cleanup, nil
}

// demoCall returns a canned cost breakdown for the query's window.
func demoCall(q provider.CostQuery) provider.CallFunc {
	return func(ctx context.Context) (*provider.CostData, error) {
		services := []provider.ServiceCost{
			{Service: "compute", Region: "us-east-1", Amount: 412.37, Currency: "USD"},
			{Service: "storage", Region: "us-east-1", Amount: 96.12, Currency: "USD"},
			{Service: "network", Region: "global", Amount: 23.58, Currency: "USD"},
		}
		var total float64
		for _, s := range services {
			total += s.Amount
		}
		return &provider.CostData{
			Provider:  q.Provider,
			Start:     q.Start,
			End:       q.End,
			Currency:  "USD",
			Total:     total,
			Services:  services,
			FetchedAt: time.Now(),
		}, nil
	}
}
