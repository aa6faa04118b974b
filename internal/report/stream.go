package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anirudiment/rudiment-dashbaord/internal/platform/observability"
	"github.com/anirudiment/rudiment-dashbaord/internal/upstream"
)

// RowPredicate decides whether a raw feed row belongs in the filtered
// stream (e.g. "is a real reply, not an auto-responder").
type RowPredicate func(upstream.Row) bool

// RawPageFunc fetches one raw feed page. Pages are 1-based, newest-first.
type RawPageFunc func(ctx context.Context, page int) (upstream.RawPage, error)

// StreamPage is one served page of the filtered stream.
type StreamPage struct {
	Rows    []upstream.Row `json:"rows"`
	HasMore bool           `json:"has_more"`
}

// StreamConfig configures the stream cache.
type StreamConfig struct {
	// TTL is the lifetime of one scan state. On expiry the filtered rows
	// and cursor are discarded and rebuilt from the feed head.
	TTL time.Duration

	// MaxPagesPerScan caps raw pages fetched per GetPage call, bounding
	// cost when the filter matches almost nothing.
	MaxPagesPerScan int
}

// DefaultStreamConfig returns the scan limits used in production.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		TTL:             5 * time.Minute,
		MaxPagesPerScan: 10,
	}
}

// streamEntry is one key's scan state. filteredRows only grows and
// rawCursor only advances within a lifetime; both reset on expiry.
type streamEntry struct {
	mu           sync.Mutex
	filteredRows []upstream.Row
	rawCursor    int
	exhausted    bool
	expiresAt    time.Time
}

// StreamCache serves stable pages of filtered rows from an upstream feed
// that supports neither filtering nor date ranges. Raw pages already
// consumed for a key are never fetched again within the entry's lifetime,
// so walking pages 1..N costs one linear scan, not N scans.
type StreamCache struct {
	cfg     StreamConfig
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]*streamEntry

	now func() time.Time
}

// NewStreamCache creates a stream cache.
func NewStreamCache(cfg StreamConfig, logger *observability.Logger, metrics *observability.Metrics) *StreamCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxPagesPerScan <= 0 {
		cfg.MaxPagesPerScan = 10
	}

	return &StreamCache{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]*streamEntry),
		now:     time.Now,
	}
}

// GetPage returns page pageNumber (1-based) of the filtered stream for key.
// Buffered rows are served without I/O; otherwise the raw feed is scanned
// forward from the entry's cursor until the page can be filled, the feed
// ends, the window's start boundary is passed, or the per-call scan cap is
// reached. Concurrent calls for the same key serialize on the entry, so
// the cursor never advances twice over the same raw page.
func (c *StreamCache) GetPage(ctx context.Context, key string, pageNumber, pageSize int, predicate RowPredicate, window upstream.DateRange, fetchRawPage RawPageFunc) (StreamPage, error) {
	if pageNumber < 1 || pageSize < 1 {
		return StreamPage{}, fmt.Errorf("invalid page request: page=%d size=%d", pageNumber, pageSize)
	}

	e := c.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	need := pageNumber * pageSize
	scanErr := c.scan(ctx, key, e, need, predicate, window, fetchRawPage)

	start := (pageNumber - 1) * pageSize
	if start >= len(e.filteredRows) {
		if scanErr != nil && len(e.filteredRows) == 0 {
			// Nothing was ever obtained for this key; surface the failure.
			return StreamPage{}, scanErr
		}
		return StreamPage{Rows: []upstream.Row{}, HasMore: c.hasMore(e, need)}, nil
	}

	end := start + pageSize
	if end > len(e.filteredRows) {
		end = len(e.filteredRows)
	}

	rows := make([]upstream.Row, end-start)
	copy(rows, e.filteredRows[start:end])

	return StreamPage{Rows: rows, HasMore: c.hasMore(e, need)}, nil
}

// entry returns the live entry for key, rebuilding it when expired.
func (c *StreamCache) entry(key string) *streamEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		e = &streamEntry{
			rawCursor: 1,
			expiresAt: c.now().Add(c.cfg.TTL),
		}
		c.entries[key] = e
	}
	return e
}

// scan advances the raw cursor until need filtered rows are buffered or a
// stop condition hits. Caller holds e.mu. A fetch failure stops the scan
// but keeps everything buffered so far; the cursor stays on the failed
// page for the next call to retry.
func (c *StreamCache) scan(ctx context.Context, key string, e *streamEntry, need int, predicate RowPredicate, window upstream.DateRange, fetchRawPage RawPageFunc) error {
	if e.exhausted || len(e.filteredRows) >= need {
		return nil
	}

	start := c.now()
	pagesScanned := 0
	rowsKept := 0

	for len(e.filteredRows) < need && !e.exhausted && pagesScanned < c.cfg.MaxPagesPerScan {
		page, err := fetchRawPage(ctx, e.rawCursor)
		if err != nil {
			c.logger.Warn("raw page fetch failed, serving buffered rows",
				"key", key, "page", e.rawCursor, "error", err)
			c.record(ctx, key, pagesScanned, rowsKept, start)
			return err
		}

		pagesScanned++
		e.rawCursor++

		if page.Empty {
			e.exhausted = true
			break
		}

		for _, row := range page.Rows {
			if predicate != nil && !predicate(row) {
				continue
			}
			if !window.Contains(row.SentAt) {
				continue
			}
			e.filteredRows = append(e.filteredRows, row)
			rowsKept++
		}

		// The feed is newest-first: once this page's oldest row predates
		// the window start, no later page can hold an in-window row.
		if !window.Start.IsZero() && len(page.Rows) > 0 {
			oldest := page.Rows[len(page.Rows)-1].SentAt
			if oldest.Before(window.Start) {
				e.exhausted = true
				break
			}
		}
	}

	c.record(ctx, key, pagesScanned, rowsKept, start)
	return nil
}

func (c *StreamCache) record(ctx context.Context, key string, pagesScanned, rowsKept int, start time.Time) {
	if c.metrics == nil || pagesScanned == 0 {
		return
	}
	c.metrics.RecordStreamScan(ctx, key, pagesScanned, rowsKept, c.now().Sub(start))
}

// hasMore reports whether rows beyond the requested page exist or could
// still be scanned. Caller holds e.mu.
func (c *StreamCache) hasMore(e *streamEntry, need int) bool {
	return len(e.filteredRows) > need || !e.exhausted
}

// Len returns the number of live entries, for introspection in tests.
func (c *StreamCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
