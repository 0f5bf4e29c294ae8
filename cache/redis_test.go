package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisSetGet(t *testing.T) {
	_, client := newTestRedis(t)
	defer client.Close()
	ctx := context.Background()
	c := NewRedis(client, WithPrefix("test"))
	defer c.Close()

	found, val, err := c.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	assert.NoError(t, c.Set(ctx, "key", "value", time.Minute))

	ok, str, err := GetTier[string](ctx, c, "key")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", str)
}

func TestRedisExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	defer client.Close()
	ctx := context.Background()
	c := NewRedis(client, WithPrefix("test"))
	defer c.Close()

	assert.NoError(t, c.Set(ctx, "key", "value", time.Second))
	mr.FastForward(2 * time.Second)

	found, _, err := c.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestRedisPrefixNamespacing(t *testing.T) {
	_, client := newTestRedis(t)
	defer client.Close()
	ctx := context.Background()
	a := NewRedis(client, WithPrefix("a"))
	b := NewRedis(client, WithPrefix("b"))

	assert.NoError(t, a.Set(ctx, "key", "from-a", time.Minute))

	found, _, err := b.Get(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found, "prefixes must isolate namespaces")
}

func TestRedisInvalidate(t *testing.T) {
	_, client := newTestRedis(t)
	defer client.Close()
	ctx := context.Background()
	c := NewRedis(client, WithPrefix("test"))

	assert.NoError(t, c.Set(ctx, "key", "value", time.Minute))

	found, err := c.Invalidate(ctx, "key")
	assert.NoError(t, err)
	assert.True(t, found)

	found, _, _ = c.Get(ctx, "key")
	assert.False(t, found)

	found, err = c.Invalidate(ctx, "key")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestRedisClearRespectsPrefix(t *testing.T) {
	_, client := newTestRedis(t)
	defer client.Close()
	ctx := context.Background()
	a := NewRedis(client, WithPrefix("a"))
	b := NewRedis(client, WithPrefix("b"))

	assert.NoError(t, a.Set(ctx, "key", "from-a", time.Minute))
	assert.NoError(t, b.Set(ctx, "key", "from-b", time.Minute))

	assert.NoError(t, a.Clear(ctx))

	found, _, _ := a.Get(ctx, "key")
	assert.False(t, found)
	found, _, _ = b.Get(ctx, "key")
	assert.True(t, found, "clear must only touch its own namespace")
}

func TestRedisServerDownReturnsError(t *testing.T) {
	mr, client := newTestRedis(t)
	defer client.Close()
	ctx := context.Background()
	c := NewRedis(client, WithPrefix("test"), WithQueryTimeout(100*time.Millisecond))

	mr.Close()

	_, _, err := c.Get(ctx, "key")
	assert.Error(t, err, "a down server is an error the tiered cache degrades on")
	assert.Error(t, c.Set(ctx, "key", "value", time.Minute))
}
