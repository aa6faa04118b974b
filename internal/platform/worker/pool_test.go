package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(context.Background(), 4, 10)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if pool.DropPolicy() != DropPolicyBlock {
		t.Errorf("DropPolicy() = %d, want DropPolicyBlock", pool.DropPolicy())
	}
}

func TestNewPoolWithConfig_ClampsWorkers(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:   0,
		QueueSize: 10,
	})
	defer pool.Close()

	if pool.Workers() != 1 {
		t.Errorf("Workers() = %d, want 1", pool.Workers())
	}
}

func TestNewPoolWithConfig_NegativeQueueSize(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:   2,
		QueueSize: -5,
	})
	defer pool.Close()

	// Falls back to an unbuffered queue, pool still functions.
	if pool.Workers() != 2 {
		t.Errorf("Workers() = %d, want 2", pool.Workers())
	}
}

func TestPool_Submit(t *testing.T) {
	pool := NewPool(context.Background(), 2, 10)
	defer pool.Close()

	resultCh := make(chan int, 1)
	err := pool.Submit(Job{
		ID: "stats:mailblast:cmp-1",
		Execute: func(ctx context.Context) (interface{}, error) {
			resultCh <- 42
			return 42, nil
		},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case v := <-resultCh:
		if v != 42 {
			t.Errorf("job produced %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}

func TestPool_Submit_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 2, 10)
	defer pool.Close()

	cancel()

	err := pool.Submit(Job{
		ID:      "after-cancel",
		Execute: func(ctx context.Context) (interface{}, error) { return nil, nil },
	})
	if err != context.Canceled {
		t.Errorf("Submit after cancel = %v, want context.Canceled", err)
	}
}

// blockWorker parks the pool's single worker until the returned channel
// is closed.
func blockWorker(t *testing.T, pool *Pool) chan struct{} {
	t.Helper()
	blocker := make(chan struct{})
	started := make(chan struct{})
	_ = pool.Submit(Job{
		ID: "blocker",
		Execute: func(ctx context.Context) (interface{}, error) {
			close(started)
			<-blocker
			return nil, nil
		},
	})
	<-started
	return blocker
}

func TestPool_TrySubmit_QueueFull(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:   1,
		QueueSize: 1,
	})
	defer pool.Close()

	blocker := blockWorker(t, pool)
	defer close(blocker)

	_ = pool.TrySubmit(Job{ID: "fill", Execute: func(ctx context.Context) (interface{}, error) { return nil, nil }})

	err := pool.TrySubmit(Job{ID: "overflow", Execute: func(ctx context.Context) (interface{}, error) { return nil, nil }})
	if !errors.Is(err, ErrBackpressure) {
		t.Errorf("TrySubmit on full queue = %v, want ErrBackpressure", err)
	}
}

func TestPool_DropPolicyNewest(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:    1,
		QueueSize:  1,
		DropPolicy: DropPolicyNewest,
	})
	defer pool.Close()

	blocker := blockWorker(t, pool)
	defer close(blocker)

	_ = pool.Submit(Job{ID: "fill", Execute: func(ctx context.Context) (interface{}, error) { return nil, nil }})

	err := pool.Submit(Job{ID: "newest", Execute: func(ctx context.Context) (interface{}, error) { return nil, nil }})
	if !errors.Is(err, ErrBackpressure) {
		t.Errorf("Submit with DropPolicyNewest = %v, want ErrBackpressure", err)
	}

	if stats := pool.Stats(); stats.JobsDropped < 1 {
		t.Errorf("JobsDropped = %d, want >= 1", stats.JobsDropped)
	}
}

func TestPool_Stats(t *testing.T) {
	pool := NewPool(context.Background(), 2, 10)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		_ = pool.Submit(Job{
			ID: "stats",
			Execute: func(ctx context.Context) (interface{}, error) {
				wg.Done()
				return nil, nil
			},
		})
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	stats := pool.Stats()
	if stats.JobsSubmitted != 5 {
		t.Errorf("JobsSubmitted = %d, want 5", stats.JobsSubmitted)
	}
	if stats.JobsCompleted != 5 {
		t.Errorf("JobsCompleted = %d, want 5", stats.JobsCompleted)
	}
}

func TestPool_Results(t *testing.T) {
	pool := NewPool(context.Background(), 2, 10)
	defer pool.Close()

	_ = pool.Submit(Job{
		ID: "stats:prospectly:cmp-9",
		Execute: func(ctx context.Context) (interface{}, error) {
			return "fetched", nil
		},
	})

	select {
	case result := <-pool.Results():
		if result.JobID != "stats:prospectly:cmp-9" {
			t.Errorf("JobID = %q", result.JobID)
		}
		if result.Value != "fetched" {
			t.Errorf("Value = %v, want %q", result.Value, "fetched")
		}
		if result.Err != nil {
			t.Errorf("Err = %v, want nil", result.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
}

func TestPool_Results_Error(t *testing.T) {
	pool := NewPool(context.Background(), 2, 10)
	defer pool.Close()

	wantErr := errors.New("upstream 502")
	_ = pool.Submit(Job{
		ID: "failing",
		Execute: func(ctx context.Context) (interface{}, error) {
			return nil, wantErr
		},
	})

	select {
	case result := <-pool.Results():
		if result.Err == nil || result.Err.Error() != wantErr.Error() {
			t.Errorf("Err = %v, want %v", result.Err, wantErr)
		}
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
}

func TestPool_SubmitAndWait(t *testing.T) {
	pool := NewPool(context.Background(), 4, 10)
	defer pool.Close()

	jobs := []Job{
		{ID: "1", Execute: func(ctx context.Context) (interface{}, error) { return 1, nil }},
		{ID: "2", Execute: func(ctx context.Context) (interface{}, error) { return 2, nil }},
		{ID: "3", Execute: func(ctx context.Context) (interface{}, error) { return 3, nil }},
	}

	results := pool.SubmitAndWait(jobs)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	// Completion order is not deterministic, so verify by sum.
	sum := 0
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("unexpected error: %v", r.Err)
		}
		if v, ok := r.Value.(int); ok {
			sum += v
		}
	}
	if sum != 6 {
		t.Errorf("sum = %d, want 6", sum)
	}
}

func TestPool_ConcurrentSubmit(t *testing.T) {
	pool := NewPool(context.Background(), 4, 100)
	defer pool.Close()

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Submit(Job{
				ID: "concurrent",
				Execute: func(ctx context.Context) (interface{}, error) {
					atomic.AddInt64(&counter, 1)
					return nil, nil
				},
			})
		}()
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	if n := atomic.LoadInt64(&counter); n != 100 {
		t.Errorf("executions = %d, want 100", n)
	}
}

func TestPool_Close(t *testing.T) {
	pool := NewPool(context.Background(), 4, 10)

	executed := make(chan struct{})
	_ = pool.Submit(Job{
		ID: "before-close",
		Execute: func(ctx context.Context) (interface{}, error) {
			close(executed)
			return nil, nil
		},
	})
	<-executed
	pool.Close()

	err := pool.Submit(Job{
		ID:      "after-close",
		Execute: func(ctx context.Context) (interface{}, error) { return nil, nil },
	})
	if err == nil {
		t.Error("Submit after Close succeeded, want error")
	}
}

func TestPool_QueueLen(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:   1,
		QueueSize: 10,
	})
	defer pool.Close()

	blocker := blockWorker(t, pool)
	defer close(blocker)

	for i := 0; i < 5; i++ {
		_ = pool.TrySubmit(Job{
			ID:      "queued",
			Execute: func(ctx context.Context) (interface{}, error) { return nil, nil },
		})
	}

	if n := pool.QueueLen(); n != 5 {
		t.Errorf("QueueLen() = %d, want 5", n)
	}
}

func BenchmarkPool_Submit(b *testing.B) {
	pool := NewPool(context.Background(), 4, 1000)
	defer pool.Close()

	job := Job{
		ID:      "bench",
		Execute: func(ctx context.Context) (interface{}, error) { return nil, nil },
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(job)
	}
}
