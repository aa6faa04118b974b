// Package mailblast implements the upstream.Fetcher capability against the
// Mailblast email campaign API.
package mailblast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/anirudiment/rudiment-dashbaord/internal/platform/observability"
	"github.com/anirudiment/rudiment-dashbaord/internal/platform/resilience"
	"github.com/anirudiment/rudiment-dashbaord/internal/upstream"
)

const platformName = "mailblast"

// Client fetches campaigns, stats and activity from the Mailblast API.
type Client struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	pageSize    int
	rateLimiter *resilience.RateLimiter
	logger      *observability.Logger
	metrics     *observability.Metrics
	retryCfg    resilience.RetryConfig
	cb          *resilience.CircuitBreaker
	statsSem    *semaphore.Weighted

	healthMu sync.RWMutex
	health   upstream.PlatformHealth
}

// ClientConfig holds Mailblast client configuration.
type ClientConfig struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	PageSize         int
	RateLimitRPM     int
	RateLimitBurst   int
	StatsConcurrency int64
	Logger           *observability.Logger
	Metrics          *observability.Metrics
	RetryConfig      resilience.RetryConfig
	CircuitBreaker   *resilience.CircuitBreaker

	// OnCircuitOpen fires when the default circuit breaker trips open.
	// Ignored when a custom CircuitBreaker is supplied.
	OnCircuitOpen func(platform string)
}

// campaignsResponse is the Mailblast campaign listing payload.
type campaignsResponse struct {
	Campaigns []campaignPayload `json:"campaigns"`
	HasMore   bool              `json:"has_more"`
}

type campaignPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// statsResponse is the per-campaign aggregate stats payload.
type statsResponse struct {
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Opens        int `json:"opens"`
	Clicks       int `json:"clicks"`
	Replies      int `json:"replies"`
	Bounces      int `json:"bounces"`
	Unsubscribes int `json:"unsubscribes"`
}

// activityResponse is one page of the Mailblast activity feed.
type activityResponse struct {
	Events []eventPayload `json:"events"`
}

type eventPayload struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	Type       string `json:"type"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	Snippet    string `json:"snippet"`
	SentAt     string `json:"sent_at"`
}

// NewClient creates a new Mailblast client.
func NewClient(cfg ClientConfig) (*Client, error) {
	// Set defaults
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mailblast.io"
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mailblast API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 120
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 10
	}
	if cfg.StatsConcurrency <= 0 {
		cfg.StatsConcurrency = 4
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = resilience.DefaultRetryConfig()
	}

	rateLimiter := resilience.NewRateLimiterFromRPM(cfg.RateLimitRPM, cfg.RateLimitBurst)

	cb := cfg.CircuitBreaker
	if cb == nil {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             platformName,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			OnStateChange: func(from, to resilience.State) {
				if cfg.Metrics != nil {
					cfg.Metrics.SetCircuitBreakerState(context.Background(), platformName, int64(to))
				}
				if to == resilience.StateOpen && cfg.OnCircuitOpen != nil {
					cfg.OnCircuitOpen(platformName)
				}
			},
		})
	}
	if cfg.Metrics != nil {
		cfg.Metrics.SetCircuitBreakerState(context.Background(), platformName, cb.StateInt())
	}

	retryCfg := cfg.RetryConfig
	if retryCfg.OnRetry == nil && cfg.Metrics != nil {
		metrics := cfg.Metrics
		retryCfg.OnRetry = func(nextAttempt int, err error) {
			metrics.RecordRetry(context.Background(), platformName, nextAttempt)
		}
	}

	return &Client{
		client:      &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		pageSize:    cfg.PageSize,
		rateLimiter: rateLimiter,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		retryCfg:    retryCfg,
		cb:          cb,
		statsSem:    semaphore.NewWeighted(cfg.StatsConcurrency),
		health: upstream.PlatformHealth{
			Platform: platformName,
		},
	}, nil
}

// Platform returns the platform identifier.
func (c *Client) Platform() string {
	return platformName
}

// ListEntities returns all campaigns visible to the account, walking the
// paginated listing until the API reports no more pages.
func (c *Client) ListEntities(ctx context.Context) ([]upstream.Entity, error) {
	var entities []upstream.Entity

	for page := 1; ; page++ {
		path := fmt.Sprintf("/v3/campaigns?page=%d&per_page=%d", page, c.pageSize)

		resp, err := fetch[campaignsResponse](c, ctx, "list_campaigns", path)
		if err != nil {
			return nil, err
		}

		for _, cp := range resp.Campaigns {
			entity, err := c.parseCampaign(cp)
			if err != nil {
				c.logger.Warn("skipping unparseable campaign", "id", cp.ID, "error", err)
				continue
			}
			entities = append(entities, entity)
		}

		if !resp.HasMore {
			break
		}
	}

	c.logger.Debug("listed mailblast campaigns", "count", len(entities))
	return entities, nil
}

// FetchStats returns aggregate stats per campaign over the window.
// Mailblast only exposes a per-campaign stats endpoint, so the ids fan out
// across bounded concurrent requests. Campaigns the API no longer knows
// (404) are absent from the result.
func (c *Client) FetchStats(ctx context.Context, ids []string, window upstream.DateRange) (map[string]upstream.Stats, error) {
	results := make(map[string]upstream.Stats, len(ids))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := c.statsSem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer c.statsSem.Release(1)

			path := fmt.Sprintf("/v3/campaigns/%s/stats%s", url.PathEscape(id), windowQuery(window))
			resp, err := fetch[statsResponse](c, ctx, "campaign_stats", path)
			if err != nil {
				if upstream.StatusOf(err) == http.StatusNotFound {
					c.logger.Debug("campaign unknown upstream, skipping", "id", id)
					return nil
				}
				return err
			}

			mu.Lock()
			results[id] = upstream.Stats{
				Sent:         resp.Sent,
				Delivered:    resp.Delivered,
				Opens:        resp.Opens,
				Clicks:       resp.Clicks,
				Replies:      resp.Replies,
				Bounces:      resp.Bounces,
				Unsubscribes: resp.Unsubscribes,
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// FetchRawPage returns one page of the activity feed, newest-first.
func (c *Client) FetchRawPage(ctx context.Context, page int) (upstream.RawPage, error) {
	path := fmt.Sprintf("/v3/activity?page=%d&per_page=%d", page, c.pageSize)

	resp, err := fetch[activityResponse](c, ctx, "activity", path)
	if err != nil {
		return upstream.RawPage{}, err
	}

	if len(resp.Events) == 0 {
		return upstream.RawPage{Empty: true}, nil
	}

	rows := make([]upstream.Row, 0, len(resp.Events))
	for _, ev := range resp.Events {
		sentAt, err := time.Parse(time.RFC3339, ev.SentAt)
		if err != nil {
			c.logger.Warn("skipping activity event with bad timestamp", "id", ev.ID, "sent_at", ev.SentAt)
			continue
		}
		rows = append(rows, upstream.Row{
			ID:       ev.ID,
			EntityID: ev.CampaignID,
			Type:     ev.Type,
			From:     ev.From,
			Subject:  ev.Subject,
			Snippet:  ev.Snippet,
			SentAt:   sentAt,
		})
	}

	return upstream.RawPage{Rows: rows}, nil
}

// fetch runs one GET against the API through the circuit breaker, retry
// policy and rate limiter, decoding the response into T.
func fetch[T any](c *Client, ctx context.Context, op, path string) (*T, error) {
	return resilience.ExecuteWithResult(c.cb, ctx, func(ctx context.Context) (*T, error) {
		return resilience.RetryWithResult(ctx, c.retryCfg, upstream.IsTransient, func(ctx context.Context) (*T, error) {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter error: %w", err)
			}

			start := time.Now()
			out, err := doGet[T](c, ctx, op, path)
			duration := time.Since(start)

			c.recordHealth(err, duration)

			if c.metrics != nil {
				status := "success"
				if err != nil {
					status = "error"
				}
				c.metrics.RecordUpstreamCall(ctx, platformName, op, status, duration)
			}

			return out, err
		})
	})
}

func doGet[T any](c *Client, ctx context.Context, op, path string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, upstream.NewPermanent(platformName, op, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Network-level failures are worth another try.
		return nil, upstream.NewTransient(platformName, op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
		if upstream.ClassifyStatus(resp.StatusCode) == upstream.KindTransient {
			return nil, upstream.NewTransient(platformName, op, resp.StatusCode, err)
		}
		return nil, upstream.NewPermanent(platformName, op, resp.StatusCode, err)
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, upstream.NewPermanent(platformName, op, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	return &out, nil
}

func (c *Client) parseCampaign(cp campaignPayload) (upstream.Entity, error) {
	createdAt, err := time.Parse(time.RFC3339, cp.CreatedAt)
	if err != nil {
		return upstream.Entity{}, fmt.Errorf("bad created_at %q: %w", cp.CreatedAt, err)
	}

	var status upstream.EntityStatus
	switch cp.Status {
	case "active", "sending":
		status = upstream.StatusActive
	case "paused", "draft":
		status = upstream.StatusPaused
	default:
		status = upstream.StatusArchived
	}

	return upstream.Entity{
		ID:        cp.ID,
		Name:      cp.Name,
		Status:    status,
		CreatedAt: createdAt,
	}, nil
}

// windowQuery renders the reporting window as query parameters. A zero
// side is omitted and left unbounded upstream.
func windowQuery(window upstream.DateRange) string {
	q := url.Values{}
	if !window.Start.IsZero() {
		q.Set("start", window.Start.UTC().Format(time.RFC3339))
	}
	if !window.End.IsZero() {
		q.Set("end", window.End.UTC().Format(time.RFC3339))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// Health returns the current health status of the Mailblast client.
func (c *Client) Health() upstream.PlatformHealth {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	h := c.health
	if c.cb != nil {
		h.CircuitState = c.cb.State().String()
	}
	return h
}

func (c *Client) recordHealth(err error, duration time.Duration) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	c.health.LastDuration = duration
	if err == nil {
		c.health.LastSuccess = time.Now()
		c.health.LastError = ""
		c.health.ConsecutiveFailures = 0
		return
	}

	c.health.LastFailure = time.Now()
	c.health.LastError = err.Error()
	c.health.ConsecutiveFailures++
}

// Name returns the client name for warmup logging.
func (c *Client) Name() string {
	return platformName
}

// Warmup primes the campaign listing at startup. Implements the
// cache.WarmupProvider interface.
func (c *Client) Warmup(ctx context.Context) error {
	entities, err := c.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("failed to warm mailblast campaign list: %w", err)
	}

	c.logger.Info("mailblast warmup complete", "campaigns", len(entities))
	return nil
}
