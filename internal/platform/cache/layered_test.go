package cache

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

// fakeCache is an in-memory Cache with injectable failures, standing in
// for the redis layer in tests.
type fakeCache struct {
	mu       sync.RWMutex
	data     map[string]fakeEntry
	getErr   error
	setErr   error
	getCalls int
	setCalls int
}

type fakeEntry struct {
	value   interface{}
	expires time.Time
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]fakeEntry)}
}

func (f *fakeCache) Get(ctx context.Context, key string) (interface{}, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	entry, ok := f.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		return nil, ErrNotFound
	}
	return entry.value, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++

	if f.setErr != nil {
		return f.setErr
	}

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	f.data[key] = fakeEntry{value: value, expires: expires}
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeCache) Close() error { return nil }

func (f *fakeCache) gets() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.getCalls
}

func (f *fakeCache) sets() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.setCalls
}

func TestLayeredCache_L1MissFallsToL2(t *testing.T) {
	ctx := context.Background()
	l1 := newFakeCache()
	l2 := newFakeCache()
	lc := NewLayeredCache(l1, l2)

	if err := l2.Set(ctx, "entities:mailblast", "listing", time.Minute); err != nil {
		t.Fatalf("seed L2: %v", err)
	}

	val, err := lc.Get(ctx, "entities:mailblast")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "listing" {
		t.Errorf("val = %v, want %q", val, "listing")
	}

	if l1.gets() != 1 {
		t.Errorf("L1 gets = %d, want 1", l1.gets())
	}
	if l2.gets() != 1 {
		t.Errorf("L2 gets = %d, want 1", l2.gets())
	}
}

func TestLayeredCache_L2HitBackfillsL1(t *testing.T) {
	ctx := context.Background()
	l1 := newFakeCache()
	l2 := newFakeCache()
	lc := NewLayeredCache(l1, l2)

	if err := l2.Set(ctx, "entities:prospectly", "listing", time.Minute); err != nil {
		t.Fatalf("seed L2: %v", err)
	}

	if _, err := lc.Get(ctx, "entities:prospectly"); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if l1.sets() != 1 {
		t.Fatalf("L1 sets after backfill = %d, want 1", l1.sets())
	}

	// Second read is served from L1 without touching L2.
	l2GetsBefore := l2.gets()
	val, err := lc.Get(ctx, "entities:prospectly")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if val != "listing" {
		t.Errorf("val = %v, want %q", val, "listing")
	}
	if l2.gets() != l2GetsBefore {
		t.Errorf("L2 gets grew by %d, want 0", l2.gets()-l2GetsBefore)
	}
}

func TestLayeredCache_L1TTLCapped(t *testing.T) {
	ctx := context.Background()
	l1 := newFakeCache()
	l2 := newFakeCache()
	lc := NewLayeredCacheWithConfig(LayeredCacheConfig{
		L1:       l1,
		L2:       l2,
		L1MaxTTL: 30 * time.Second,
	})

	if err := lc.Set(ctx, "k", "v", 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	l1.mu.RLock()
	l1Entry, ok := l1.data["k"]
	l1.mu.RUnlock()
	if !ok {
		t.Fatal("key missing from L1")
	}
	if ttl := time.Until(l1Entry.expires); ttl > 31*time.Second {
		t.Errorf("L1 TTL = %v, want <= 30s", ttl)
	}

	l2.mu.RLock()
	l2Entry, ok := l2.data["k"]
	l2.mu.RUnlock()
	if !ok {
		t.Fatal("key missing from L2")
	}
	if ttl := time.Until(l2Entry.expires); ttl < 4*time.Minute {
		t.Errorf("L2 TTL = %v, want ~5m", ttl)
	}
}

func TestLayeredCache_DegradesOnL1Fault(t *testing.T) {
	ctx := context.Background()
	l1 := newFakeCache()
	l2 := newFakeCache()
	l1.getErr = errors.New("l1 connection refused")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	lc := NewLayeredCacheWithLogger(l1, l2, logger)

	_ = l2.Set(ctx, "k", "v", time.Minute)

	val, err := lc.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get should have degraded to L2: %v", err)
	}
	if val != "v" {
		t.Errorf("val = %v, want %q", val, "v")
	}
}

func TestLayeredCache_L1Only(t *testing.T) {
	ctx := context.Background()
	l1 := newFakeCache()
	lc := NewLayeredCache(l1, nil)

	if err := lc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := lc.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "v" {
		t.Errorf("val = %v, want %q", val, "v")
	}

	if err := lc.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := lc.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestLayeredCache_L2Only(t *testing.T) {
	ctx := context.Background()
	l2 := newFakeCache()
	lc := NewLayeredCache(nil, l2)

	if err := lc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := lc.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "v" {
		t.Errorf("val = %v, want %q", val, "v")
	}
}

func TestLayeredCache_InvalidateL1(t *testing.T) {
	ctx := context.Background()
	l1 := newFakeCache()
	l2 := newFakeCache()
	lc := NewLayeredCache(l1, l2)

	if err := lc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := lc.InvalidateL1(ctx, "k"); err != nil {
		t.Fatalf("InvalidateL1: %v", err)
	}

	if _, err := l1.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("L1 after invalidate = %v, want ErrNotFound", err)
	}
	if val, err := l2.Get(ctx, "k"); err != nil || val != "v" {
		t.Errorf("L2 after invalidate = %v, %v; want %q, nil", val, err, "v")
	}

	// A layered read repopulates L1 from L2.
	if val, err := lc.Get(ctx, "k"); err != nil || val != "v" {
		t.Errorf("Get after invalidate = %v, %v; want %q, nil", val, err, "v")
	}
}

func TestLayeredCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	lc := NewLayeredCache(newFakeCache(), newFakeCache())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = lc.Set(ctx, "shared", id*1000+j, time.Minute)
			}
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = lc.Get(ctx, "shared")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent access timed out")
	}
}

func TestLayeredCache_NotFound(t *testing.T) {
	lc := NewLayeredCache(newFakeCache(), newFakeCache())

	_, err := lc.Get(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestLayeredCache_L2ErrorPropagates(t *testing.T) {
	l2 := newFakeCache()
	l2.getErr = errors.New("l2 connection refused")
	lc := NewLayeredCache(newFakeCache(), l2)

	_, err := lc.Get(context.Background(), "k")
	if err == nil {
		t.Fatal("expected L2 error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("got ErrNotFound, want the L2 error")
	}
}

func TestLayeredCache_WriteThrough(t *testing.T) {
	ctx := context.Background()
	l1 := newFakeCache()
	l2 := newFakeCache()
	lc := NewLayeredCache(l1, l2)

	if err := lc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if val, err := l1.Get(ctx, "k"); err != nil || val != "v" {
		t.Errorf("L1 = %v, %v; want %q, nil", val, err, "v")
	}
	if val, err := l2.Get(ctx, "k"); err != nil || val != "v" {
		t.Errorf("L2 = %v, %v; want %q, nil", val, err, "v")
	}
}

func TestLayeredCache_DefaultL1MaxTTL(t *testing.T) {
	lc := NewLayeredCache(newFakeCache(), newFakeCache())

	if lc.l1MaxTTL != DefaultL1MaxTTL {
		t.Errorf("l1MaxTTL = %v, want %v", lc.l1MaxTTL, DefaultL1MaxTTL)
	}
	if DefaultL1MaxTTL != time.Minute {
		t.Errorf("DefaultL1MaxTTL = %v, want 1m", DefaultL1MaxTTL)
	}
}
