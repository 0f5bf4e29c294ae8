package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisTier struct {
	client *redis.Client
	cfg    config
}

var _ Tier = (*redisTier)(nil)

// NewRedis returns the remote L3 tier, backed by Redis. Values are
// serialized to msgpack; expiry uses the native Redis TTL, so no sweep
// goroutine is needed and no entry cap applies (Redis enforces its own
// memory policy). The caller owns the redis.Client lifecycle — Close is a
// no-op on the client.
func NewRedis(client *redis.Client, opts ...Option) Tier {
	cfg := applyOptions(opts)
	return &redisTier{
		client: client,
		cfg:    cfg,
	}
}

func (c *redisTier) Name() string { return "redis" }

func (c *redisTier) DefaultTTL() time.Duration { return c.cfg.defaultTTL }

func (c *redisTier) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

func (c *redisTier) prefixKey(key string) string {
	if c.cfg.prefix == "" {
		return key
	}
	return c.cfg.prefix + ":" + key
}

func (c *redisTier) Get(ctx context.Context, key string) (bool, any, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	data, err := c.client.Get(qctx, c.prefixKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, data, nil
}

func (c *redisTier) Set(ctx context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.defaultTTL
	}
	data, err := encode(val)
	if err != nil {
		return err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.client.Set(qctx, c.prefixKey(key), data, ttl).Err()
}

func (c *redisTier) Invalidate(ctx context.Context, key string) (bool, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	result, err := c.client.Del(qctx, c.prefixKey(key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

func (c *redisTier) Clear(ctx context.Context) error {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if c.cfg.prefix == "" {
		return c.client.FlushDB(qctx).Err()
	}
	// Only this cache's namespace, not the whole database.
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(qctx, cursor, c.cfg.prefix+":*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(qctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close is a no-op — the caller owns the redis.Client lifecycle.
func (c *redisTier) Close() error {
	return nil
}
