// Package report implements the aggregation core behind the dashboard:
// cache key derivation, the cached report builder, the background stats
// warmer and the filtered reply stream.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anirudiment/rudiment-dashbaord/internal/upstream"
)

// Query identifies one aggregated report request. Two logically identical
// requests always derive the same cache key, regardless of entity id order.
type Query struct {
	// Platforms restricts the report to the named platforms. Empty means all.
	Platforms []string

	// EntityIDs restricts the report to specific campaigns. Empty means all.
	EntityIDs []string

	// Window is the reporting date window.
	Window upstream.DateRange

	// Status filters campaigns by lifecycle state. Empty means no filter.
	Status upstream.EntityStatus

	// IncludeRates adds computed percentage rates to each row.
	IncludeRates bool
}

// CacheKey derives the deterministic cache key for the query.
func (q Query) CacheKey() string {
	platforms := append([]string(nil), q.Platforms...)
	sort.Strings(platforms)

	ids := append([]string(nil), q.EntityIDs...)
	sort.Strings(ids)

	return fmt.Sprintf("report|%s|%s|%s|%s|rates=%t",
		strings.Join(platforms, ","),
		strings.Join(ids, ","),
		windowKey(q.Window),
		q.Status,
		q.IncludeRates,
	)
}

// statsKey derives the warmer key for one platform's stats over a window.
func statsKey(platform string, window upstream.DateRange) string {
	return fmt.Sprintf("stats|%s|%s", platform, windowKey(window))
}

// streamKey derives the stream cache key for a filtered feed query.
func streamKey(platform, kind string, window upstream.DateRange) string {
	return fmt.Sprintf("stream|%s|%s|%s", platform, kind, windowKey(window))
}

func windowKey(window upstream.DateRange) string {
	return formatBound(window.Start) + ".." + formatBound(window.End)
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
