package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// MemoryCache is an in-process LRU cache with per-entry TTL. It is the L1
// layer in front of Redis: entity listings and other small hot values live
// here between report builds.
type MemoryCache struct {
	maxSize int
	entries map[string]*list.Element
	lru     *list.List
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// NewMemoryCache creates a memory cache holding at most maxSize entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}

	c := &MemoryCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		stopCh:  make(chan struct{}),
	}

	go c.reapLoop()

	return c
}

// Get retrieves a value. Expired entries are removed on access.
func (c *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	c.mu.RLock()
	element, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}

	entry := element.Value.(*memoryEntry)

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		c.remove(key)
		c.mu.Unlock()
		return nil, ErrNotFound
	}

	c.mu.Lock()
	c.lru.MoveToFront(element)
	c.mu.Unlock()

	return entry.value, nil
}

// Set stores a value with the given TTL, evicting the least recently used
// entry when over capacity.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)

	if element, exists := c.entries[key]; exists {
		entry := element.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.lru.MoveToFront(element)
		return nil
	}

	element := c.lru.PushFront(&memoryEntry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
	c.entries[key] = element

	if c.lru.Len() > c.maxSize {
		c.evictOldest()
	}

	return nil
}

// Delete removes a key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
	return nil
}

// Close stops the background reaper.
func (c *MemoryCache) Close() error {
	close(c.stopCh)
	return nil
}

// remove drops an entry. Caller must hold the lock.
func (c *MemoryCache) remove(key string) {
	if element, exists := c.entries[key]; exists {
		c.lru.Remove(element)
		delete(c.entries, key)
	}
}

// evictOldest drops the least recently used entry. Caller must hold the lock.
func (c *MemoryCache) evictOldest() {
	if element := c.lru.Back(); element != nil {
		c.remove(element.Value.(*memoryEntry).key)
	}
}

func (c *MemoryCache) reapLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.reapExpired()
		case <-c.stopCh:
			return
		}
	}
}

// reapExpired removes every expired entry so idle keys do not pin memory
// until their next access.
func (c *MemoryCache) reapExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expired := make([]string, 0)

	for key, element := range c.entries {
		if now.After(element.Value.(*memoryEntry).expiresAt) {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		c.remove(key)
	}
}

// Stats returns the current and maximum entry counts.
func (c *MemoryCache) Stats() (size int, maxSize int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), c.maxSize
}
