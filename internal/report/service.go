package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/anirudiment/rudiment-dashbaord/internal/platform/cache"
	"github.com/anirudiment/rudiment-dashbaord/internal/platform/observability"
	"github.com/anirudiment/rudiment-dashbaord/internal/upstream"
)

// CampaignRow is one campaign's line in an aggregated report.
type CampaignRow struct {
	Platform  string                `json:"platform"`
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Status    upstream.EntityStatus `json:"status"`
	CreatedAt time.Time             `json:"created_at"`
	Stats     upstream.Stats        `json:"stats"`
	Rates     *Rates                `json:"rates,omitempty"`
}

// Report is the aggregated cross-platform view served to the dashboard.
// WarmingUp is true while some platform's stats have never been populated;
// the report still renders with whatever is cached.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Window      upstream.DateRange `json:"window"`
	WarmingUp   bool               `json:"warming_up"`
	Campaigns   []CampaignRow      `json:"campaigns"`
}

// RepliesQuery identifies one page of the filtered reply stream.
type RepliesQuery struct {
	Platform string
	Page     int
	PageSize int
	Window   upstream.DateRange
}

// ErrUnknownPlatform is returned when a query names a platform no
// configured fetcher serves.
var ErrUnknownPlatform = errors.New("unknown platform")

// ServiceConfig configures the report service.
type ServiceConfig struct {
	// ReportTTL is how long a built report is served from cache.
	ReportTTL time.Duration

	// EntityCache, when set, caches per-platform campaign listings for
	// EntityTTL. Campaign metadata changes far slower than stats, so a
	// shared cache cuts a listing round trip from most report builds.
	EntityCache cache.Cache
	EntityTTL   time.Duration

	// Tracer defaults to the global OTEL tracer.
	Tracer observability.Tracer
}

// Service is the aggregation core. It owns the report cache, the stats
// warmer and the stream cache, and is the only component that talks to
// the upstream fetchers on behalf of the reporting layer.
type Service struct {
	fetchers  map[string]upstream.Fetcher
	platforms []string

	reports *cache.ResultCache[*Report]
	warmer  *Warmer
	stream  *StreamCache

	reportTTL   time.Duration
	entityCache cache.Cache
	entityTTL   time.Duration
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      observability.Tracer
}

// NewService creates the report service over the given upstream fetchers.
func NewService(cfg ServiceConfig, fetchers []upstream.Fetcher, warmer *Warmer, stream *StreamCache, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = 2 * time.Minute
	}
	if cfg.EntityTTL <= 0 {
		cfg.EntityTTL = 5 * time.Minute
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewTracer("report")
	}

	byName := make(map[string]upstream.Fetcher, len(fetchers))
	platforms := make([]string, 0, len(fetchers))
	for _, f := range fetchers {
		byName[f.Platform()] = f
		platforms = append(platforms, f.Platform())
	}
	sort.Strings(platforms)

	return &Service{
		fetchers:    byName,
		platforms:   platforms,
		reports:     cache.NewResultCache[*Report](),
		warmer:      warmer,
		stream:      stream,
		reportTTL:   cfg.ReportTTL,
		entityCache: cfg.EntityCache,
		entityTTL:   cfg.EntityTTL,
		logger:      logger,
		metrics:     metrics,
		tracer:      cfg.Tracer,
	}
}

// BuildReport returns the aggregated report for the query, served from the
// TTL cache when live. Concurrent requests for the same query share one
// underlying build.
func (s *Service) BuildReport(ctx context.Context, q Query) (*Report, error) {
	start := time.Now()

	report, cached, shared, err := s.reports.GetOrFetchShared(ctx, q.CacheKey(), s.reportTTL, func(ctx context.Context) (*Report, error) {
		return s.buildReport(ctx, q)
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordError(ctx, "report_build")
		}
		return nil, err
	}

	if s.metrics != nil {
		if shared && !cached {
			s.metrics.RecordCoalescedRequest(ctx)
		}
		s.metrics.RecordReportBuild(ctx, "api", cached, time.Since(start))
	}
	return report, nil
}

// buildReport assembles one report: campaign listings fetched per platform
// in parallel, stats served from the warmer's cache with a refresh kicked
// off when stale. Listing failures fail the build (the report would be
// empty); stats staleness never blocks it.
func (s *Service) buildReport(ctx context.Context, q Query) (*Report, error) {
	platforms := s.selectPlatforms(q)
	if len(platforms) == 0 {
		return nil, fmt.Errorf("%w: none of the requested platforms match (known: %s)", ErrUnknownPlatform, strings.Join(s.platforms, ", "))
	}

	ctx, span := s.tracer.StartSpan(ctx, "Service.buildReport",
		observability.WithAttributes(
			attribute.StringSlice("platforms", platforms),
			attribute.String("window.start", q.Window.Start.Format(time.RFC3339)),
			attribute.String("window.end", q.Window.End.Format(time.RFC3339)),
		),
	)
	defer span.End()

	report := &Report{
		GeneratedAt: time.Now(),
		Window:      q.Window,
		Campaigns:   []CampaignRow{},
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, platform := range platforms {
		platform := platform
		fetcher := s.fetchers[platform]

		g.Go(func() error {
			entities, err := s.listEntities(gctx, fetcher)
			if err != nil {
				return fmt.Errorf("listing %s campaigns: %w", platform, err)
			}

			entities = filterEntities(entities, q)
			ids := make([]string, len(entities))
			for i, e := range entities {
				ids[i] = e.ID
			}

			sk := statsKey(platform, q.Window)
			s.warmer.EnsureFresh(sk, ids, s.entityStatsFetch(fetcher, q.Window))
			entry, known := s.warmer.ReadCached(sk)

			covered := true
			rows := make([]CampaignRow, 0, len(entities))
			for _, e := range entities {
				stats, ok := entry.Values[e.ID]
				if !ok {
					// A zero row is rendered, but the report must say so
					// rather than pass it off as a real count.
					covered = false
				}
				row := CampaignRow{
					Platform:  platform,
					ID:        e.ID,
					Name:      e.Name,
					Status:    e.Status,
					CreatedAt: e.CreatedAt,
					Stats:     stats,
				}
				if q.IncludeRates {
					rates := RatesFor(row.Stats)
					row.Rates = &rates
				}
				rows = append(rows, row)
			}

			mu.Lock()
			report.Campaigns = append(report.Campaigns, rows...)
			if !known || entry.UpdatedAt.IsZero() || !covered {
				report.WarmingUp = true
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.NoticeError(err)
		return nil, err
	}

	sort.Slice(report.Campaigns, func(i, j int) bool {
		a, b := report.Campaigns[i], report.Campaigns[j]
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.Name < b.Name
	})

	return report, nil
}

// listEntities fetches a platform's campaign listing, served from the
// shared entity cache when one is configured.
func (s *Service) listEntities(ctx context.Context, fetcher upstream.Fetcher) ([]upstream.Entity, error) {
	if s.entityCache == nil {
		return fetcher.ListEntities(ctx)
	}

	cacheKey := "entities:" + fetcher.Platform()
	if cached, err := s.entityCache.Get(ctx, cacheKey); err == nil {
		if entities, ok := decodeEntities(cached); ok {
			if s.metrics != nil {
				s.metrics.RecordCacheHit(ctx, "entities")
			}
			return entities, nil
		}
	}
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(ctx, "entities")
	}

	entities, err := fetcher.ListEntities(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.entityCache.Set(ctx, cacheKey, entities, s.entityTTL); err != nil && s.logger != nil {
		s.logger.Warn("failed to cache entity listing", "platform", fetcher.Platform(), "error", err)
	}

	return entities, nil
}

// decodeEntities recovers a listing from a cached value. The memory layer
// stores the slice as-is, but the redis layer round-trips values through
// JSON, so an L2 hit comes back as generic decoded JSON and needs another
// round trip into the typed form.
func decodeEntities(cached interface{}) ([]upstream.Entity, bool) {
	switch v := cached.(type) {
	case []upstream.Entity:
		return v, true
	case []interface{}:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var entities []upstream.Entity
		if err := json.Unmarshal(raw, &entities); err != nil {
			return nil, false
		}
		return entities, true
	default:
		return nil, false
	}
}

// entityStatsFetch adapts a platform fetcher to the warmer's per-entity
// contract. An id the platform does not resolve counts as a failed fetch,
// so the warmer keeps that entity's last-known-good value.
func (s *Service) entityStatsFetch(fetcher upstream.Fetcher, window upstream.DateRange) EntityFetchFunc {
	return func(ctx context.Context, id string) (upstream.Stats, error) {
		stats, err := fetcher.FetchStats(ctx, []string{id}, window)
		if err != nil {
			return upstream.Stats{}, err
		}
		value, ok := stats[id]
		if !ok {
			return upstream.Stats{}, fmt.Errorf("no stats returned for entity %s", id)
		}
		return value, nil
	}
}

// Replies returns one page of the filtered reply stream for a platform's
// raw feed. Defaults to prospectly, the platform that owns the feed.
func (s *Service) Replies(ctx context.Context, q RepliesQuery) (StreamPage, error) {
	platform := q.Platform
	if platform == "" {
		platform = "prospectly"
	}
	fetcher, ok := s.fetchers[platform]
	if !ok {
		return StreamPage{}, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}

	ctx, span := s.tracer.StartSpan(ctx, "Service.Replies",
		observability.WithAttributes(
			attribute.String("platform", platform),
			attribute.Int("page", q.Page),
			attribute.Int("page_size", q.PageSize),
		),
	)
	defer span.End()

	key := streamKey(platform, "replies", q.Window)
	page, err := s.stream.GetPage(ctx, key, q.Page, q.PageSize, IsReply, q.Window, fetcher.FetchRawPage)
	if err != nil {
		span.NoticeError(err)
		return StreamPage{}, err
	}
	return page, nil
}

// IsReply keeps genuine reply rows and drops feed noise: delivery/bounce
// records and auto-responders.
func IsReply(r upstream.Row) bool {
	if r.Type != "reply" {
		return false
	}
	subject := strings.ToLower(r.Subject)
	for _, marker := range []string{"automatic reply", "auto-reply", "out of office"} {
		if strings.Contains(subject, marker) {
			return false
		}
	}
	return true
}

// Health returns per-platform health snapshots for every fetcher that
// reports one.
func (s *Service) Health() []upstream.PlatformHealth {
	snapshots := make([]upstream.PlatformHealth, 0, len(s.platforms))
	for _, platform := range s.platforms {
		if hr, ok := s.fetchers[platform].(upstream.HealthReporter); ok {
			snapshots = append(snapshots, hr.Health())
		}
	}
	return snapshots
}

// selectPlatforms resolves the query's platform filter against the
// configured fetchers.
func (s *Service) selectPlatforms(q Query) []string {
	if len(q.Platforms) == 0 {
		return s.platforms
	}
	var selected []string
	for _, p := range s.platforms {
		for _, want := range q.Platforms {
			if p == want {
				selected = append(selected, p)
				break
			}
		}
	}
	return selected
}

// filterEntities never filters in place: the input slice may be shared
// through the entity cache.
func filterEntities(entities []upstream.Entity, q Query) []upstream.Entity {
	filtered := make([]upstream.Entity, 0, len(entities))
	for _, e := range entities {
		if q.Status != "" && e.Status != q.Status {
			continue
		}
		if len(q.EntityIDs) > 0 && !containsID(q.EntityIDs, e.ID) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
