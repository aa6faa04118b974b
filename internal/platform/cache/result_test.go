package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestResultCache_CachesWithinTTL(t *testing.T) {
	c := NewResultCache[string]()
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (string, error) {
		calls++
		return "report-v1", nil
	}

	got, cached, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cached {
		t.Error("First call should not be served from cache")
	}
	if got != "report-v1" {
		t.Errorf("Expected report-v1, got %q", got)
	}

	got, cached, err = c.GetOrFetch(ctx, "k", time.Minute, fetch)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !cached {
		t.Error("Second call should be served from cache")
	}
	if got != "report-v1" {
		t.Errorf("Expected cached report-v1, got %q", got)
	}
	if calls != 1 {
		t.Errorf("Expected 1 fetch, got %d", calls)
	}
}

func TestResultCache_ExpiryTriggersExactlyOneRefetch(t *testing.T) {
	c := NewResultCache[int]()
	ctx := context.Background()

	current := time.Now()
	c.now = func() time.Time { return current }

	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	if v, _, _ := c.GetOrFetch(ctx, "k", 30*time.Second, fetch); v != 1 {
		t.Fatalf("Expected first fetch value 1, got %d", v)
	}

	// Just before expiry: still cached.
	current = current.Add(29 * time.Second)
	if v, cached, _ := c.GetOrFetch(ctx, "k", 30*time.Second, fetch); !cached || v != 1 {
		t.Fatalf("Expected cached value 1 before expiry, got %d (cached=%v)", v, cached)
	}

	// Past expiry: exactly one new fetch.
	current = current.Add(2 * time.Second)
	if v, cached, _ := c.GetOrFetch(ctx, "k", 30*time.Minute, fetch); cached || v != 2 {
		t.Fatalf("Expected fresh value 2 after expiry, got %d (cached=%v)", v, cached)
	}
	if calls != 2 {
		t.Errorf("Expected 2 fetches total, got %d", calls)
	}
}

func TestResultCache_CoalescesConcurrentCallers(t *testing.T) {
	c := NewResultCache[string]()
	ctx := context.Background()

	var fetches int32
	started := make(chan struct{})
	release := make(chan struct{})

	fetch := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&fetches, 1)
		close(started)
		<-release
		return "shared", nil
	}

	const callers = 25
	results := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, errs[0] = c.GetOrFetch(ctx, "k", time.Minute, fetch)
	}()

	// Wait for the first fetch to be in flight so the rest must coalesce.
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
				atomic.AddInt32(&fetches, 1)
				return "wrong", nil
			})
		}(i)
	}

	// Give the waiters a moment to join the flight, then let it finish.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Errorf("Expected exactly 1 fetch, got %d", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d got error: %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Errorf("Caller %d got %q, want shared", i, results[i])
		}
	}
}

func TestResultCache_SharedFlag(t *testing.T) {
	c := NewResultCache[string]()
	ctx := context.Background()

	// A lone caller gets its own flight.
	_, cached, shared, err := c.GetOrFetchShared(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "solo", nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cached || shared {
		t.Errorf("Lone caller should be neither cached nor shared, got cached=%v shared=%v", cached, shared)
	}

	// A cache hit is not a shared flight.
	_, cached, shared, err = c.GetOrFetchShared(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "unused", nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !cached || shared {
		t.Errorf("Cache hit should report cached=true shared=false, got cached=%v shared=%v", cached, shared)
	}

	// Concurrent callers on one flight all see shared=true.
	started := make(chan struct{})
	release := make(chan struct{})
	var sharedCount int32

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, isShared, _ := c.GetOrFetchShared(ctx, "k2", time.Minute, func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "joint", nil
		})
		if isShared {
			atomic.AddInt32(&sharedCount, 1)
		}
	}()

	<-started
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, isShared, _ := c.GetOrFetchShared(ctx, "k2", time.Minute, func(ctx context.Context) (string, error) {
				return "wrong", nil
			})
			if isShared {
				atomic.AddInt32(&sharedCount, 1)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&sharedCount); n != 5 {
		t.Errorf("Expected all 5 callers of one flight to see shared=true, got %d", n)
	}
}

func TestResultCache_FailureNotCached(t *testing.T) {
	c := NewResultCache[string]()
	ctx := context.Background()

	boom := errors.New("upstream down")
	calls := 0

	_, _, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		calls++
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected fetch error, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("Failed fetch must not write a cache entry")
	}

	// Next caller starts a fresh attempt and succeeds.
	got, cached, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
		calls++
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cached || got != "recovered" {
		t.Errorf("Expected fresh recovered value, got %q (cached=%v)", got, cached)
	}
	if calls != 2 {
		t.Errorf("Expected 2 fetch attempts, got %d", calls)
	}
}

func TestResultCache_ErrorPropagatesToAllWaiters(t *testing.T) {
	c := NewResultCache[string]()
	ctx := context.Background()

	boom := errors.New("rate limited")
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	errsCh := make(chan error, 10)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "", boom
		})
		errsCh <- err
	}()

	<-started
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrFetch(ctx, "k", time.Minute, func(ctx context.Context) (string, error) {
				return "should not run", nil
			})
			errsCh <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errsCh)

	count := 0
	for err := range errsCh {
		count++
		if !errors.Is(err, boom) {
			t.Errorf("Waiter got %v, want the flight's error", err)
		}
	}
	if count != 10 {
		t.Errorf("Expected 10 waiter results, got %d", count)
	}
}

func TestResultCache_Invalidate(t *testing.T) {
	c := NewResultCache[int]()
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	c.GetOrFetch(ctx, "k", time.Minute, fetch)
	c.Invalidate("k")

	if v, cached, _ := c.GetOrFetch(ctx, "k", time.Minute, fetch); cached || v != 2 {
		t.Errorf("Expected refetch after Invalidate, got %d (cached=%v)", v, cached)
	}
}

func TestResultCache_ZeroTTLNotStored(t *testing.T) {
	c := NewResultCache[int]()
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	c.GetOrFetch(ctx, "k", 0, fetch)
	c.GetOrFetch(ctx, "k", 0, fetch)

	if calls != 2 {
		t.Errorf("Expected no caching with zero TTL, got %d calls", calls)
	}
}

func TestResultCache_KeysAreIndependent(t *testing.T) {
	c := NewResultCache[string]()
	ctx := context.Background()

	a, _, _ := c.GetOrFetch(ctx, "a", time.Minute, func(ctx context.Context) (string, error) { return "va", nil })
	b, _, _ := c.GetOrFetch(ctx, "b", time.Minute, func(ctx context.Context) (string, error) { return "vb", nil })

	if a != "va" || b != "vb" {
		t.Errorf("Expected independent values, got a=%q b=%q", a, b)
	}
	if c.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", c.Len())
	}
}
