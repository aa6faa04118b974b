package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ResultCache memoizes the result of an expensive composite fetch for a
// configurable TTL and coalesces concurrent fetches for the same key into
// a single upstream call. It is the request-path cache in front of the
// upstream aggregation: a live entry is returned with no I/O, a miss joins
// any in-flight fetch for its key or starts one, and a failed fetch is
// never cached.
type ResultCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]resultEntry[V]
	group   singleflight.Group

	// now is replaceable in tests to exercise expiry without sleeping.
	now func() time.Time
}

type resultEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewResultCache creates an empty result cache.
func NewResultCache[V any]() *ResultCache[V] {
	return &ResultCache[V]{
		entries: make(map[string]resultEntry[V]),
		now:     time.Now,
	}
}

// GetOrFetch returns the cached value for key if it is still live, otherwise
// joins or starts a single fetch for the key. The returned bool reports
// whether the value was served from cache without invoking fetch.
//
// Concurrency: at most one fetch per key is in flight at any moment; every
// caller that arrives while it runs receives its result, success or error.
// The fetch runs on the first caller's context.
func (c *ResultCache[V]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (V, bool, error) {
	v, cached, _, err := c.GetOrFetchShared(ctx, key, ttl, fetch)
	return v, cached, err
}

// GetOrFetchShared is GetOrFetch with a third report: whether the result
// came out of a flight shared with other concurrent callers. Callers use
// it to count coalesced requests.
func (c *ResultCache[V]) GetOrFetchShared(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (V, bool, bool, error) {
	if v, ok := c.lookup(key); ok {
		return v, true, false, nil
	}

	res, err, shared := c.group.Do(key, func() (interface{}, error) {
		// Another flight may have stored the entry between our miss and
		// acquiring the flight. Serve it rather than fetching again.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		v, err := fetch(ctx)
		if err != nil {
			// Failures are not cached; the next caller after this flight
			// settles starts a fresh attempt.
			return nil, err
		}

		c.store(key, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, shared, err
	}

	return res.(V), false, shared, nil
}

// Peek returns the live cached value for key without fetching.
func (c *ResultCache[V]) Peek(key string) (V, bool) {
	return c.lookup(key)
}

// Invalidate drops the entry for key. An in-flight fetch is unaffected.
func (c *ResultCache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones that
// have not been touched since expiry.
func (c *ResultCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ResultCache[V]) lookup(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}

	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check: a concurrent store may have replaced the entry.
		if cur, still := c.entries[key]; still && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}

	return entry.value, true
}

func (c *ResultCache[V]) store(key string, v V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = resultEntry[V]{value: v, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}
