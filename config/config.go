// Package config holds the typed configuration for the caching and
// resilience core. The core packages never read files or environment
// variables themselves; this package is the loader that turns a YAML
// document into one validated, immutable Config handed to the application
// entry point at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "300ms", "90m", "2h" or "1d".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	dur, err := str2duration.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MemoryTierConfig configures the in-process L1 tier.
type MemoryTierConfig struct {
	Enabled    bool     `yaml:"enabled"`
	TTL        Duration `yaml:"ttl"`
	MaxEntries int      `yaml:"max_entries"`
}

// DiskTierConfig configures the SQLite-backed L2 tier.
type DiskTierConfig struct {
	Enabled    bool     `yaml:"enabled"`
	TTL        Duration `yaml:"ttl"`
	MaxEntries int      `yaml:"max_entries"`
	Path       string   `yaml:"path"`
}

// RemoteTierConfig configures the Redis-backed L3 tier.
type RemoteTierConfig struct {
	Enabled   bool     `yaml:"enabled"`
	TTL       Duration `yaml:"ttl"`
	Addr      string   `yaml:"addr"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"key_prefix"`
}

// CacheConfig configures the three cache tiers. Tier enablement is static
// per process: L3 off is the normal single-host mode.
type CacheConfig struct {
	L1 MemoryTierConfig `yaml:"l1"`
	L2 DiskTierConfig   `yaml:"l2"`
	L3 RemoteTierConfig `yaml:"l3"`
}

// BreakerConfig configures the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	OpenTimeout      Duration `yaml:"open_timeout"`
}

// RetryConfig configures the retry budget and backoff schedule.
type RetryConfig struct {
	MaxTries  int      `yaml:"max_tries"`
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
	Jitter    bool     `yaml:"jitter"`
}

// RateLimitConfig configures the shared outbound token bucket.
type RateLimitConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// Config is the root configuration object.
type Config struct {
	Cache     CacheConfig     `yaml:"cache"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Default returns the configuration used when no file is supplied: L1 and
// L2 on with the stock TTL ladder (5m / 1h / 2h), L3 off.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			L1: MemoryTierConfig{Enabled: true, TTL: Duration(5 * time.Minute), MaxEntries: 500},
			L2: DiskTierConfig{Enabled: true, TTL: Duration(time.Hour), MaxEntries: 5000, Path: ".cache/costray.db"},
			L3: RemoteTierConfig{Enabled: false, TTL: Duration(2 * time.Hour), Addr: "localhost:6379", KeyPrefix: "costray"},
		},
		Breaker: BreakerConfig{FailureThreshold: 5, OpenTimeout: Duration(60 * time.Second)},
		Retry:   RetryConfig{MaxTries: 3, BaseDelay: Duration(time.Second), MaxDelay: Duration(60 * time.Second), Jitter: true},
		RateLimit: RateLimitConfig{
			Rate:  10,
			Burst: 5,
		},
	}
}

// Load reads and validates a YAML config file. Fields absent from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot work: zero tiers enabled,
// non-positive TTLs on enabled tiers, and nonsensical breaker, retry or
// rate-limit settings.
func (c *Config) Validate() error {
	if !c.Cache.L1.Enabled && !c.Cache.L2.Enabled && !c.Cache.L3.Enabled {
		return errors.New("config: at least one cache tier must be enabled")
	}
	if c.Cache.L1.Enabled && c.Cache.L1.TTL <= 0 {
		return errors.New("config: cache.l1.ttl must be positive")
	}
	if c.Cache.L2.Enabled {
		if c.Cache.L2.TTL <= 0 {
			return errors.New("config: cache.l2.ttl must be positive")
		}
		if c.Cache.L2.Path == "" {
			return errors.New("config: cache.l2.path is required when l2 is enabled")
		}
	}
	if c.Cache.L3.Enabled {
		if c.Cache.L3.TTL <= 0 {
			return errors.New("config: cache.l3.ttl must be positive")
		}
		if c.Cache.L3.Addr == "" {
			return errors.New("config: cache.l3.addr is required when l3 is enabled")
		}
	}
	if c.Breaker.FailureThreshold <= 0 {
		return errors.New("config: breaker.failure_threshold must be positive")
	}
	if c.Breaker.OpenTimeout <= 0 {
		return errors.New("config: breaker.open_timeout must be positive")
	}
	if c.Retry.MaxTries <= 0 {
		return errors.New("config: retry.max_tries must be positive")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("config: retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("config: rate_limit.rate and rate_limit.burst must be positive")
	}
	return nil
}
