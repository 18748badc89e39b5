// ABOUTME: Thread-safe TTL cache enforcing a cooldown window per key.
// ABOUTME: Used to limit verification codes to one per phone number per window.

package cooldown

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the acquire time and list element for a key.
type cacheEntry struct {
	acquired time.Time
	element  *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited set of keys in cooldown.
// Uses a doubly-linked list to maintain acquire order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	active  map[string]*cacheEntry
	order   *list.List // keys in acquire order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cooldown cache with the given window and maximum size.
// A background goroutine periodically drops expired entries.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	c := &Cache{
		active:  make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanup()
	return c
}

// Acquire atomically starts a cooldown for key. It returns false and the
// remaining wait when key is already cooling down.
func (c *Cache) Acquire(key string) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.active[key]; ok {
		if elapsed := now.Sub(entry.acquired); elapsed < c.ttl {
			return false, c.ttl - elapsed
		}
		entry.acquired = now
		c.order.MoveToBack(entry.element)
		return true, 0
	}

	if c.maxSize > 0 && len(c.active) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.active[key] = &cacheEntry{acquired: now, element: elem}
	return true, 0
}

// Release ends the cooldown for key early, e.g. when delivery failed.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.active[key]; ok {
		c.order.Remove(entry.element)
		delete(c.active, key)
	}
}

// Active reports whether key is cooling down.
func (c *Cache) Active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.active[key]
	return ok && c.now().Sub(entry.acquired) < c.ttl
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.active, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.active {
		if now.Sub(entry.acquired) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.active, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
