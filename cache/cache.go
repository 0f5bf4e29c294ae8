package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrNoTiers is returned when a tiered cache is constructed with zero
	// tiers. This is a configuration error: with no tier enabled every get
	// would be a miss and every set a no-op, which is never intentional.
	ErrNoTiers = errors.New("cache: no tiers configured")

	// ErrCacheUnavailable is returned when every tier failed to serve a
	// write. Single-tier failures degrade silently and are only counted.
	ErrCacheUnavailable = errors.New("cache: all tiers unavailable")
)

// Tier is one level of the tiered cache (memory, disk, remote). All
// implementations must be safe for concurrent use.
//
// Get returns (false, nil, nil) on a miss; an expired entry is a miss.
// Serialized tiers (SQLite, Redis) return values as msgpack []byte — use the
// generic Get helper to decode them back into a typed value.
type Tier interface {
	// Name identifies the tier in logs and stats ("memory", "disk", "redis").
	Name() string

	// DefaultTTL is the TTL this tier applies when Set is called with ttl <= 0.
	// Cross-tier promotion also writes with the destination tier's DefaultTTL.
	DefaultTTL() time.Duration

	// Get retrieves a value. The bool reports whether the key was present
	// and unexpired.
	Get(ctx context.Context, key string) (bool, any, error)

	// Set stores a value with the given TTL. If ttl <= 0 the tier's default
	// TTL is used.
	Set(ctx context.Context, key string, val any, ttl time.Duration) error

	// Invalidate removes a key. The bool reports whether the key existed;
	// a missing key is not an error.
	Invalidate(ctx context.Context, key string) (bool, error)

	// Clear removes every entry from the tier.
	Clear(ctx context.Context) error

	// Close releases tier resources (sweep goroutines, database handles).
	Close() error
}

// DefaultQueryTimeout is the per-operation timeout for tiers that perform
// I/O (SQLite, Redis). Prevents indefinite hangs on slow or unresponsive
// storage.
const DefaultQueryTimeout = 5 * time.Second

// config holds the resolved configuration for a tier implementation.
type config struct {
	defaultTTL   time.Duration
	maxEntries   int
	queryTimeout time.Duration
	expiryCheck  time.Duration
	prefix       string
	logger       zerolog.Logger
}

// Option configures a Tier implementation.
type Option func(*config)

func defaultTierConfig() config {
	return config{
		defaultTTL:   5 * time.Minute,
		queryTimeout: DefaultQueryTimeout,
		expiryCheck:  time.Minute,
		logger:       zerolog.Nop(),
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultTierConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithTTL sets the tier's default TTL, used when Set is called with ttl <= 0
// and when values are promoted into this tier from a slower one.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithMaxEntries caps the number of entries the tier holds. When the cap is
// exceeded the least recently used entry is evicted. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *config) { c.maxEntries = n }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed tiers
// (SQLite, Redis). Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Applies to the memory and SQLite tiers; the sweep is an optimization —
// lazy expiry on access is what correctness rests on. Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix sets the key prefix for namespacing cache keys. Applies to the
// Redis tier. Defaults to empty (no prefix).
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithLogger sets the logger used for degraded-operation warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// encode serializes a value for a byte-oriented tier. Values that are
// already []byte pass through unchanged so that promotion between serialized
// tiers does not double-encode.
func encode(val any) ([]byte, error) {
	if b, ok := val.([]byte); ok {
		return b, nil
	}
	return msgpack.Marshal(val)
}

// Get retrieves a typed value from the tiered cache. For the memory tier it
// performs a direct type assertion; for serialized tiers it deserializes
// the stored []byte via msgpack.
func Get[T any](ctx context.Context, c *Tiered, key string) (bool, T, error) {
	var zero T
	found, val, err := c.Get(ctx, key)
	if !found || err != nil {
		return false, zero, err
	}
	return decodeAs[T](val)
}

// GetTier is Get against a single tier, bypassing the tiered lookup. Used
// by tests and maintenance tooling to inspect one level in isolation.
func GetTier[T any](ctx context.Context, t Tier, key string) (bool, T, error) {
	var zero T
	found, val, err := t.Get(ctx, key)
	if !found || err != nil {
		return false, zero, err
	}
	return decodeAs[T](val)
}

func decodeAs[T any](val any) (bool, T, error) {
	var zero T
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return false, zero, fmt.Errorf("cache: failed to unmarshal value: %w", err)
		}
		return true, result, nil
	}
	return false, zero, fmt.Errorf("cache: cannot convert value of type %T to %T", val, zero)
}
