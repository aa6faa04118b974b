package report

import (
	"context"
	"sync"
	"time"

	"github.com/anirudiment/rudiment-dashbaord/internal/platform/observability"
	"github.com/anirudiment/rudiment-dashbaord/internal/platform/worker"
	"github.com/anirudiment/rudiment-dashbaord/internal/upstream"
)

// RefreshState is the lifecycle state of one stats cache entry.
type RefreshState int

const (
	// StateIdle means no refresh is running.
	StateIdle RefreshState = iota
	// StateRefreshing means a background refresh is in progress.
	StateRefreshing
	// StateError means the last refresh could not run at all.
	StateError
)

func (s RefreshState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StatsEntry is a snapshot of one warmed stats set. Values carries
// last-known-good per-entity counters; a failed refresh never removes or
// zeroes an entity that was fetched successfully before.
type StatsEntry struct {
	UpdatedAt time.Time
	Values    map[string]upstream.Stats
	State     RefreshState
	LastErr   error
}

// statsEntry is the owned, mutable form behind the warmer's lock.
type statsEntry struct {
	updatedAt time.Time
	values    map[string]upstream.Stats
	state     RefreshState
	lastErr   error
}

// EntityFetchFunc fetches stats for a single entity over the warmer's
// window. One entity's failure must not affect the others.
type EntityFetchFunc func(ctx context.Context, id string) (upstream.Stats, error)

// WarmerConfig configures refresh pacing.
type WarmerConfig struct {
	// StalenessThreshold is the age after which an entry is refreshed.
	StalenessThreshold time.Duration

	// MinRefreshInterval debounces refresh triggers: a refresh is skipped
	// while the last successful update is younger than this.
	MinRefreshInterval time.Duration

	// Workers bounds concurrent upstream stats calls per refresh.
	Workers int

	// InterCallDelay is the pause between dispatching entity fetches,
	// keeping refresh traffic under upstream per-window rate limits.
	InterCallDelay time.Duration

	// OnError is invoked when a refresh could not run at all (no entity
	// could be fetched). Used to raise alerts.
	OnError func(key string, err error)
}

// DefaultWarmerConfig returns the refresh pacing used in production.
func DefaultWarmerConfig() WarmerConfig {
	return WarmerConfig{
		StalenessThreshold: 10 * time.Minute,
		MinRefreshInterval: time.Minute,
		Workers:            2,
		InterCallDelay:     500 * time.Millisecond,
	}
}

// Warmer keeps per-entity statistics fresh in the background. Reads never
// block and never trigger I/O; refreshes run on their own goroutine with a
// bounded worker pool, decoupled from request handling.
type Warmer struct {
	cfg     WarmerConfig
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]*statsEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewWarmer creates a stats warmer. Background refreshes stop when Close
// is called.
func NewWarmer(cfg WarmerConfig, logger *observability.Logger, metrics *observability.Metrics) *Warmer {
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = 10 * time.Minute
	}
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Warmer{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]*statsEntry),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// ReadCached returns a snapshot of the entry for key. It never blocks on
// I/O and never triggers a refresh. The second return is false when the
// key has never been seen.
func (w *Warmer) ReadCached(key string) (StatsEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[key]
	if !ok {
		return StatsEntry{}, false
	}

	values := make(map[string]upstream.Stats, len(e.values))
	for id, s := range e.values {
		values[id] = s
	}

	return StatsEntry{
		UpdatedAt: e.updatedAt,
		Values:    values,
		State:     e.state,
		LastErr:   e.lastErr,
	}, true
}

// EnsureFresh triggers a background refresh for key when the entry is
// stale. Fire-and-forget: it returns immediately, and it is safe to call
// on every request. The refresh is skipped while one is already running
// for the key, and while the last successful update is younger than the
// staleness threshold or the debounce interval.
func (w *Warmer) EnsureFresh(key string, ids []string, fetch EntityFetchFunc) {
	w.mu.Lock()

	e, ok := w.entries[key]
	if !ok {
		e = &statsEntry{values: make(map[string]upstream.Stats)}
		w.entries[key] = e
	}

	if reason := w.skipReason(e, ids); reason != "" {
		w.mu.Unlock()
		if w.metrics != nil {
			w.metrics.RecordStatsRefreshSkipped(w.ctx, key, reason)
		}
		return
	}

	e.state = StateRefreshing
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.refresh(key, e, ids, fetch)
	}()
}

// skipReason decides whether a refresh may start. A requested entity the
// entry has never held makes it stale regardless of age: an earlier
// refresh over a narrower entity set does not cover it. Caller holds w.mu.
func (w *Warmer) skipReason(e *statsEntry, ids []string) string {
	if e.state == StateRefreshing {
		return "already_refreshing"
	}
	if e.updatedAt.IsZero() {
		return ""
	}
	for _, id := range ids {
		if _, ok := e.values[id]; !ok {
			return ""
		}
	}
	age := w.now().Sub(e.updatedAt)
	if age <= w.cfg.StalenessThreshold {
		return "fresh"
	}
	if age <= w.cfg.MinRefreshInterval {
		return "debounced"
	}
	return ""
}

// refresh fans the entity set out over a bounded worker pool with a fixed
// delay between dispatches, then merges whatever succeeded. Partial results
// are merged entity by entity; entities that failed this cycle keep their
// previous values.
func (w *Warmer) refresh(key string, e *statsEntry, ids []string, fetch EntityFetchFunc) {
	start := w.now()

	pool := worker.NewPool(w.ctx, w.cfg.Workers, len(ids)+1)
	defer pool.Close()

	fetched := make(map[string]upstream.Stats, len(ids))
	var fetchedMu sync.Mutex
	var firstErr error

	var collect sync.WaitGroup
	collect.Add(1)
	go func() {
		defer collect.Done()
		for i := 0; i < len(ids); i++ {
			select {
			case res := <-pool.Results():
				fetchedMu.Lock()
				if res.Err != nil {
					if firstErr == nil {
						firstErr = res.Err
					}
				} else if stats, ok := res.Value.(upstream.Stats); ok {
					fetched[res.JobID] = stats
				}
				fetchedMu.Unlock()
			case <-w.ctx.Done():
				return
			}
		}
	}()

	submitted := 0
	for _, id := range ids {
		id := id
		err := pool.Submit(worker.Job{
			ID: id,
			Execute: func(ctx context.Context) (interface{}, error) {
				return fetch(ctx, id)
			},
		})
		if err != nil {
			break // pool context cancelled, shutting down
		}
		submitted++

		if w.cfg.InterCallDelay > 0 && submitted < len(ids) {
			select {
			case <-time.After(w.cfg.InterCallDelay):
			case <-w.ctx.Done():
			}
		}
	}

	// Submission stops early only when w.ctx was cancelled, and the
	// collector exits on the same signal, so this never hangs.
	collect.Wait()

	duration := w.now().Sub(start)

	w.mu.Lock()
	for id, stats := range fetched {
		e.values[id] = e.values[id].Merge(stats)
	}

	if len(fetched) == 0 && firstErr != nil {
		// Nothing came back at all: the refresh effectively could not run.
		e.state = StateError
		e.lastErr = firstErr
	} else {
		e.state = StateIdle
		e.lastErr = nil
		e.updatedAt = w.now()
	}
	merged := len(fetched)
	failed := submitted - merged
	hardFailed := e.state == StateError
	w.mu.Unlock()

	if hardFailed && w.cfg.OnError != nil {
		w.cfg.OnError(key, firstErr)
	}

	status := "success"
	if failed > 0 {
		status = "partial"
	}
	if merged == 0 && firstErr != nil {
		status = "error"
	}

	if w.metrics != nil {
		w.metrics.RecordStatsRefresh(w.ctx, key, status, merged, duration)
	}
	if w.logger != nil {
		w.logger.Info("stats refresh finished",
			"key", key,
			"status", status,
			"entities", len(ids),
			"merged", merged,
			"failed", failed,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// Close stops background refreshes and waits for in-flight ones.
func (w *Warmer) Close() {
	w.cancel()
	w.wg.Wait()
}
