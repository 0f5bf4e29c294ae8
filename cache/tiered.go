package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Tiered composes ordered cache tiers, cheapest first (memory, disk,
// remote). Get probes tiers in order and promotes a deeper hit into every
// faster tier; Set writes through all tiers. A failing tier degrades to a
// miss (reads) or a skipped write — it never fails the overall operation.
//
// Cross-tier operations are not atomic as a whole: a crash between tier
// writes can leave faster tiers populated and slower ones not. That state
// self-heals on the next miss-driven promotion. Each tier carries its own
// lock; no lock spans all tiers.
type Tiered struct {
	tiers  []Tier
	logger zerolog.Logger

	mu       sync.Mutex
	hits     []uint64 // aligned with tiers
	writes   []uint64
	errs     []uint64
	misses   uint64
	promoted uint64
}

// TierStats is a snapshot of one tier's counters.
type TierStats struct {
	Name   string
	Hits   uint64
	Writes uint64
	Errors uint64
}

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Tiers      []TierStats
	Misses     uint64
	Promotions uint64
}

// HitRate is the fraction of lookups served from any tier.
func (s Stats) HitRate() float64 {
	var hits uint64
	for _, t := range s.Tiers {
		hits += t.Hits
	}
	total := hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// NewTiered builds a tiered cache over the given tiers, ordered fastest
// first. At least one tier is required; a zero-tier cache is a
// misconfiguration and is rejected here rather than silently missing on
// every call.
func NewTiered(tiers []Tier, opts ...Option) (*Tiered, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	cfg := applyOptions(opts)
	return &Tiered{
		tiers:  tiers,
		logger: cfg.logger,
		hits:   make([]uint64, len(tiers)),
		writes: make([]uint64, len(tiers)),
		errs:   make([]uint64, len(tiers)),
	}, nil
}

// Get probes tiers in order and returns the first hit. A hit at a deeper
// tier is written back into every faster tier with that tier's default TTL
// before returning. A miss at all tiers returns (false, nil, nil).
func (c *Tiered) Get(ctx context.Context, key string) (bool, any, error) {
	for i, tier := range c.tiers {
		found, val, err := tier.Get(ctx, key)
		if err != nil {
			c.countError(i)
			c.logger.Warn().Err(err).Str("tier", tier.Name()).Str("key", key).Msg("cache tier get failed, degrading to miss")
			continue
		}
		if !found {
			continue
		}
		c.countHit(i)
		if i > 0 {
			c.promote(ctx, key, val, i)
		}
		return true, val, nil
	}
	c.countMiss()
	return false, nil, nil
}

// Set writes the value through every tier. If ttl > 0 it overrides each
// tier's default TTL; otherwise every tier applies its own default. A tier
// write failure is logged and skipped; Set only errors when no tier at all
// accepted the write.
func (c *Tiered) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	var ok bool
	for i, tier := range c.tiers {
		if err := tier.Set(ctx, key, val, ttl); err != nil {
			c.countError(i)
			c.logger.Warn().Err(err).Str("tier", tier.Name()).Str("key", key).Msg("cache tier set failed, continuing")
			continue
		}
		c.countWrite(i)
		ok = true
	}
	if !ok {
		return ErrCacheUnavailable
	}
	return nil
}

// Invalidate removes the key from every tier. A missing key is not an
// error. Tier failures are logged; the first one is returned after all
// tiers have been attempted.
func (c *Tiered) Invalidate(ctx context.Context, key string) error {
	var firstErr error
	for i, tier := range c.tiers {
		if _, err := tier.Invalidate(ctx, key); err != nil {
			c.countError(i)
			c.logger.Warn().Err(err).Str("tier", tier.Name()).Str("key", key).Msg("cache tier invalidate failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Clear empties every tier. Used by maintenance tooling.
func (c *Tiered) Clear(ctx context.Context) error {
	var firstErr error
	for i, tier := range c.tiers {
		if err := tier.Clear(ctx); err != nil {
			c.countError(i)
			c.logger.Warn().Err(err).Str("tier", tier.Name()).Msg("cache tier clear failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close closes every tier, returning the first error encountered.
func (c *Tiered) Close() error {
	var firstErr error
	for _, tier := range c.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns a snapshot of per-tier and aggregate counters.
func (c *Tiered) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Tiers:      make([]TierStats, len(c.tiers)),
		Misses:     c.misses,
		Promotions: c.promoted,
	}
	for i, tier := range c.tiers {
		s.Tiers[i] = TierStats{
			Name:   tier.Name(),
			Hits:   c.hits[i],
			Writes: c.writes[i],
			Errors: c.errs[i],
		}
	}
	return s
}

// promote writes a value found at tier hitIdx back into every faster tier,
// each with its own default TTL. Promotion failures only degrade.
func (c *Tiered) promote(ctx context.Context, key string, val any, hitIdx int) {
	for i := 0; i < hitIdx; i++ {
		tier := c.tiers[i]
		if err := tier.Set(ctx, key, val, tier.DefaultTTL()); err != nil {
			c.countError(i)
			c.logger.Warn().Err(err).Str("tier", tier.Name()).Str("key", key).Msg("cache promotion failed")
			continue
		}
		c.countWrite(i)
	}
	c.mu.Lock()
	c.promoted++
	c.mu.Unlock()
}

func (c *Tiered) countHit(i int) {
	c.mu.Lock()
	c.hits[i]++
	c.mu.Unlock()
}

func (c *Tiered) countWrite(i int) {
	c.mu.Lock()
	c.writes[i]++
	c.mu.Unlock()
}

func (c *Tiered) countError(i int) {
	c.mu.Lock()
	c.errs[i]++
	c.mu.Unlock()
}

func (c *Tiered) countMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
