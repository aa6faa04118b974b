// Package upstream defines the abstract capability the aggregation core
// consumes. Each marketing platform implements Fetcher with its own
// pagination and auth details; the core never sees platform field names.
package upstream

import (
	"context"
	"time"
)

// EntityStatus is the lifecycle state of a campaign entity.
type EntityStatus string

const (
	StatusActive   EntityStatus = "active"
	StatusPaused   EntityStatus = "paused"
	StatusArchived EntityStatus = "archived"
)

// Entity is a campaign (or sequence) as the platform reports it.
type Entity struct {
	ID        string
	Name      string
	Status    EntityStatus
	CreatedAt time.Time
}

// Stats holds aggregate delivery counters for one entity over a window.
// Counters are absolute counts; rate math happens in the reporting layer.
type Stats struct {
	Sent         int
	Delivered    int
	Opens        int
	Clicks       int
	Replies      int
	Bounces      int
	Unsubscribes int
}

// Merge returns s combined with other by taking other's counters.
// Used when a later fetch supersedes an earlier one for the same entity.
func (s Stats) Merge(other Stats) Stats {
	return other
}

// Row is one raw record from a platform's activity feed (a sent message,
// a reply, a bounce notice). Feeds are newest-first and unfilterable
// server-side, so filtering happens in the core.
type Row struct {
	ID       string
	EntityID string
	Type     string // "reply", "sent", "bounce", "auto_reply", ...
	From     string
	Subject  string
	Snippet  string
	SentAt   time.Time
}

// RawPage is one page of an activity feed. Empty signals the feed end.
type RawPage struct {
	Rows  []Row
	Empty bool
}

// DateRange is a half-open [Start, End) reporting window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
// A zero Start or End leaves that side unbounded.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// Fetcher is the per-platform upstream capability.
// Implementations own their rate limiting, retries and response parsing;
// failures surface as *Error with transient/permanent classification.
type Fetcher interface {
	// Platform returns the platform identifier ("mailblast", "prospectly").
	Platform() string

	// ListEntities returns all campaign entities visible to the account.
	ListEntities(ctx context.Context) ([]Entity, error)

	// FetchStats returns aggregate stats for the given entity ids over the
	// window. Entities the platform could not resolve are absent from the
	// result; that alone is not an error.
	FetchStats(ctx context.Context, ids []string, window DateRange) (map[string]Stats, error)

	// FetchRawPage returns one page of the raw activity feed. Pages are
	// 1-based and newest-first.
	FetchRawPage(ctx context.Context, page int) (RawPage, error)
}
