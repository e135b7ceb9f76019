package cache

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type memoryEntry struct {
	value     []byte
	createdAt time.Time
}

// MemoryQueryCache keeps entries in an LRU list ordered by creation.
// Reads use Peek so a hit never changes the eviction order.
type MemoryQueryCache struct {
	mu      sync.Mutex
	items   *simplelru.LRU[string, memoryEntry] // nil when maxSize == 0
	ttl     time.Duration
	maxSize int
	hits    int64
	misses  int64
	now     func() time.Time
}

type MemoryOption func(*MemoryQueryCache)

// WithMemoryClock replaces time.Now.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *MemoryQueryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryQueryCache creates an in-process cache.
// ttl == 0 never hits; maxSize == 0 stores nothing.
func NewMemoryQueryCache(ttl time.Duration, maxSize int, opts ...MemoryOption) (*MemoryQueryCache, error) {
	if err := validateLimits(ttl, maxSize); err != nil {
		return nil, err
	}

	c := &MemoryQueryCache{
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
	if maxSize > 0 {
		items, err := simplelru.NewLRU[string, memoryEntry](maxSize, nil)
		if err != nil {
			return nil, err
		}
		c.items = items
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get retrieves a live value; an expired entry is removed and reported as a miss.
func (c *MemoryQueryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.items == nil {
		c.misses++
		return nil, false, nil
	}

	entry, ok := c.items.Peek(key)
	if !ok {
		c.misses++
		return nil, false, nil
	}
	if !c.liveLocked(entry) {
		c.items.Remove(key)
		c.misses++
		return nil, false, nil
	}

	c.hits++
	return bytes.Clone(entry.value), true, nil
}

// Put stores value under key, evicting the oldest entry if the key is new and
// the cache is full.
func (c *MemoryQueryCache) Put(_ context.Context, key string, value []byte) error {
	if c.items == nil {
		return nil
	}

	// Copy to decouple from caller's buffer
	valueCopy := bytes.Clone(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.items.Contains(key) && c.items.Len() >= c.maxSize {
		c.items.RemoveOldest()
	}
	c.items.Add(key, memoryEntry{value: valueCopy, createdAt: c.now()})
	return nil
}

func (c *MemoryQueryCache) Stats(_ context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return newStats(c.lenLocked(), c.maxSize, c.hits, c.misses), nil
}

// PurgeExpired removes every expired entry and returns how many were dropped.
func (c *MemoryQueryCache) PurgeExpired(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.items == nil {
		return 0, nil
	}
	removed := 0
	for _, k := range c.items.Keys() {
		if e, ok := c.items.Peek(k); ok && !c.liveLocked(e) {
			c.items.Remove(k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of items currently in the cache, expired or not.
func (c *MemoryQueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lenLocked()
}

// Clear removes all items from cache.
func (c *MemoryQueryCache) Clear() {
	c.mu.Lock()
	if c.items != nil {
		c.items.Purge()
	}
	c.mu.Unlock()
}

func (c *MemoryQueryCache) lenLocked() int {
	if c.items == nil {
		return 0
	}
	return c.items.Len()
}

func (c *MemoryQueryCache) liveLocked(e memoryEntry) bool {
	return c.now().Sub(e.createdAt) < c.ttl
}
