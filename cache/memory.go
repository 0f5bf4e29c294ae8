package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	object    any
	expiresAt time.Time
}

type memoryTier struct {
	ctx       context.Context
	cancel    context.CancelFunc
	mutex     sync.Mutex
	entries   map[string]*list.Element
	lru       *list.List // front = most recently used
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Tier = (*memoryTier)(nil)

// NewMemory returns the in-process L1 tier. Values are stored as-is with no
// serialization; eviction is least-recently-used once the entry cap is
// reached. A background goroutine sweeps expired entries, but expiry is
// enforced lazily on Get regardless.
func NewMemory(parent context.Context, opts ...Option) Tier {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &memoryTier{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		cfg:     cfg,
	}
	c.waitGroup.Add(1)
	go c.run()
	return c
}

func (c *memoryTier) Name() string { return "memory" }

func (c *memoryTier) DefaultTTL() time.Duration { return c.cfg.defaultTTL }

func (c *memoryTier) Get(_ context.Context, key string) (bool, any, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return false, nil, nil
	}
	entry := el.Value.(*memoryEntry)
	if entry.expiresAt.Before(time.Now()) {
		c.removeLocked(el)
		return false, nil, nil
	}
	c.lru.MoveToFront(el)
	return true, entry.object, nil
}

func (c *memoryTier) Set(_ context.Context, key string, val any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.defaultTTL
	}
	expiresAt := time.Now().Add(ttl)
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.object = val
		entry.expiresAt = expiresAt
		c.lru.MoveToFront(el)
		return nil
	}
	el := c.lru.PushFront(&memoryEntry{key: key, object: val, expiresAt: expiresAt})
	c.entries[key] = el
	if c.cfg.maxEntries > 0 && len(c.entries) > c.cfg.maxEntries {
		c.evictLocked()
	}
	return nil
}

func (c *memoryTier) Invalidate(_ context.Context, key string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	el, ok := c.entries[key]
	if ok {
		c.removeLocked(el)
	}
	return ok, nil
}

func (c *memoryTier) Clear(_ context.Context) error {
	c.mutex.Lock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.mutex.Unlock()
	return nil
}

func (c *memoryTier) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

// evictLocked drops the least recently used entry.
func (c *memoryTier) evictLocked() {
	if el := c.lru.Back(); el != nil {
		c.removeLocked(el)
	}
}

func (c *memoryTier) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	c.lru.Remove(el)
	delete(c.entries, entry.key)
}

func (c *memoryTier) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mutex.Lock()
			var next *list.Element
			for el := c.lru.Front(); el != nil; el = next {
				next = el.Next()
				if el.Value.(*memoryEntry).expiresAt.Before(now) {
					c.removeLocked(el)
				}
			}
			c.mutex.Unlock()
		}
	}
}
