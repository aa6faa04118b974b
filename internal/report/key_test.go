package report

import (
	"testing"
	"time"

	"github.com/anirudiment/rudiment-dashbaord/internal/upstream"
)

func TestQuery_CacheKey_Deterministic(t *testing.T) {
	window := upstream.DateRange{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
	}

	a := Query{
		Platforms: []string{"prospectly", "mailblast"},
		EntityIDs: []string{"c2", "c1", "c3"},
		Window:    window,
		Status:    upstream.StatusActive,
	}
	b := Query{
		Platforms: []string{"mailblast", "prospectly"},
		EntityIDs: []string{"c3", "c1", "c2"},
		Window:    window,
		Status:    upstream.StatusActive,
	}

	if a.CacheKey() != b.CacheKey() {
		t.Errorf("Logically identical queries produced different keys:\n%s\n%s", a.CacheKey(), b.CacheKey())
	}
}

func TestQuery_CacheKey_DistinguishesQueries(t *testing.T) {
	base := Query{EntityIDs: []string{"c1"}}

	variants := []Query{
		{EntityIDs: []string{"c2"}},
		{EntityIDs: []string{"c1"}, Status: upstream.StatusPaused},
		{EntityIDs: []string{"c1"}, IncludeRates: true},
		{EntityIDs: []string{"c1"}, Window: upstream.DateRange{Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}},
		{EntityIDs: []string{"c1"}, Platforms: []string{"mailblast"}},
	}

	for i, v := range variants {
		if v.CacheKey() == base.CacheKey() {
			t.Errorf("Variant %d collided with base key %s", i, base.CacheKey())
		}
	}
}

func TestQuery_CacheKey_IgnoresOrderNotMutation(t *testing.T) {
	q := Query{EntityIDs: []string{"b", "a"}}
	_ = q.CacheKey()

	// Deriving the key must not reorder the caller's slice
	if q.EntityIDs[0] != "b" {
		t.Error("CacheKey mutated the query's entity id slice")
	}
}

func TestWindowKey_UnboundedSides(t *testing.T) {
	open := windowKey(upstream.DateRange{})
	if open != "-..-" {
		t.Errorf("Expected -..- for unbounded window, got %s", open)
	}

	half := windowKey(upstream.DateRange{Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	if half != "2026-03-01T00:00:00Z..-" {
		t.Errorf("Unexpected half-open window key: %s", half)
	}
}
