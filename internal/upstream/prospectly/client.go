// Package prospectly implements the upstream.Fetcher capability against the
// Prospectly social-outreach API. Prospectly owns the raw message feed the
// reply stream is built from: the feed is newest-first and the API offers
// no server-side filtering, so every row comes back as-is.
package prospectly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/anirudiment/rudiment-dashbaord/internal/platform/observability"
	"github.com/anirudiment/rudiment-dashbaord/internal/platform/resilience"
	"github.com/anirudiment/rudiment-dashbaord/internal/upstream"
)

const platformName = "prospectly"

// Client fetches campaigns, statistics and the message feed from the
// Prospectly API. Prospectly throttles aggressively, so the client runs
// behind an adaptive limiter that backs off on 429s and recovers on
// sustained success.
type Client struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	pageSize int
	limiter  *resilience.AdaptiveLimiter
	logger   *observability.Logger
	metrics  *observability.Metrics
	retryCfg resilience.RetryConfig
	cb       *resilience.CircuitBreaker

	healthMu sync.RWMutex
	health   upstream.PlatformHealth
}

// ClientConfig holds Prospectly client configuration.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	PageSize       int
	RateLimitRPM   int
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	RetryConfig    resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker

	// OnCircuitOpen fires when the default circuit breaker trips open.
	// Ignored when a custom CircuitBreaker is supplied.
	OnCircuitOpen func(platform string)
}

// campaignsResponse is the Prospectly campaign listing payload.
type campaignsResponse struct {
	Data []campaignPayload `json:"data"`
}

type campaignPayload struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	State      string `json:"state"`
	InsertedAt string `json:"inserted_at"`
}

// statisticsResponse is the batch statistics payload, keyed by campaign id.
type statisticsResponse struct {
	Statistics map[string]statsPayload `json:"statistics"`
}

type statsPayload struct {
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Opens        int `json:"opens"`
	Clicks       int `json:"clicks"`
	Replies      int `json:"replies"`
	Bounces      int `json:"bounces"`
	Unsubscribes int `json:"unsubscribes"`
}

// messagesResponse is one page of the Prospectly message feed.
type messagesResponse struct {
	Messages []messagePayload `json:"messages"`
}

type messagePayload struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	Kind       string `json:"kind"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	Preview    string `json:"preview"`
	SentAt     string `json:"sent_at"`
}

// NewClient creates a new Prospectly client.
func NewClient(cfg ClientConfig) (*Client, error) {
	// Set defaults
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.prospectly.co"
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("prospectly API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 60
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = resilience.DefaultRetryConfig()
	}

	// Floor at a quarter of the base rate, recover up to double.
	limiter := resilience.NewAdaptiveLimiterFromRPM(cfg.RateLimitRPM, cfg.RateLimitRPM/4, cfg.RateLimitRPM*2)

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
		client:   &http.Client{Timeout: cfg.Timeout},
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		limiter:  limiter,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		retryCfg: retryCfg,
		cb:       cb,
		health: upstream.PlatformHealth{
			Platform: platformName,
		},
	}, nil
}

// Platform returns the platform identifier.
func (c *Client) Platform() string {
	return platformName
}

// ListEntities returns all campaigns visible to the account.
func (c *Client) ListEntities(ctx context.Context) ([]upstream.Entity, error) {
	resp, err := fetch[campaignsResponse](c, ctx, "list_campaigns", "/api/v2/campaigns")
	if err != nil {
		return nil, err
	}

	entities := make([]upstream.Entity, 0, len(resp.Data))
	for _, cp := range resp.Data {
		insertedAt, err := time.Parse(time.RFC3339, cp.InsertedAt)
		if err != nil {
			c.logger.Warn("skipping campaign with bad inserted_at", "id", cp.ID, "inserted_at", cp.InsertedAt)
			continue
		}
		entities = append(entities, upstream.Entity{
			ID:        cp.ID,
			Name:      cp.Title,
			Status:    mapState(cp.State),
			CreatedAt: insertedAt,
		})
	}

	c.logger.Debug("listed prospectly campaigns", "count", len(entities))
	return entities, nil
}

// FetchStats returns aggregate stats for the given campaign ids over the
// window, using the batch statistics endpoint. Ids the API does not know
// are simply missing from the response map.
func (c *Client) FetchStats(ctx context.Context, ids []string, window upstream.DateRange) (map[string]upstream.Stats, error) {
	if len(ids) == 0 {
		return map[string]upstream.Stats{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	if !window.Start.IsZero() {
		q.Set("from", window.Start.UTC().Format(time.RFC3339))
	}
	if !window.End.IsZero() {
		q.Set("to", window.End.UTC().Format(time.RFC3339))
	}

	resp, err := fetch[statisticsResponse](c, ctx, "statistics", "/api/v2/campaigns/statistics?"+q.Encode())
	if err != nil {
		return nil, err
	}

	results := make(map[string]upstream.Stats, len(resp.Statistics))
	for id, sp := range resp.Statistics {
		results[id] = upstream.Stats{
			Sent:         sp.Sent,
			Delivered:    sp.Delivered,
			Opens:        sp.Opens,
			Clicks:       sp.Clicks,
			Replies:      sp.Replies,
			Bounces:      sp.Bounces,
			Unsubscribes: sp.Unsubscribes,
		}
	}
	return results, nil
}

// FetchRawPage returns one page of the message feed, newest-first.
func (c *Client) FetchRawPage(ctx context.Context, page int) (upstream.RawPage, error) {
	path := fmt.Sprintf("/api/v2/messages?page=%d&per_page=%d", page, c.pageSize)

	resp, err := fetch[messagesResponse](c, ctx, "messages", path)
	if err != nil {
		return upstream.RawPage{}, err
	}

	if len(resp.Messages) == 0 {
		return upstream.RawPage{Empty: true}, nil
	}

	rows := make([]upstream.Row, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		sentAt, err := time.Parse(time.RFC3339, msg.SentAt)
		if err != nil {
			c.logger.Warn("skipping message with bad timestamp", "id", msg.ID, "sent_at", msg.SentAt)
			continue
		}
		rows = append(rows, upstream.Row{
			ID:       msg.ID,
			EntityID: msg.CampaignID,
			Type:     msg.Kind,
			From:     msg.From,
			Subject:  msg.Subject,
			Snippet:  msg.Preview,
			SentAt:   sentAt,
		})
	}

	return upstream.RawPage{Rows: rows}, nil
}

// fetch runs one GET through the circuit breaker, retry policy and
// adaptive limiter, decoding the response into T. Rate limit responses
// feed the limiter so the request rate backs off before the retry runs.
func fetch[T any](c *Client, ctx context.Context, op, path string) (*T, error) {
	return resilience.ExecuteWithResult(c.cb, ctx, func(ctx context.Context) (*T, error) {
		return resilience.RetryWithResult(ctx, c.retryCfg, upstream.IsTransient, func(ctx context.Context) (*T, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter error: %w", err)
			}

			start := time.Now()
			out, err := doGet[T](c, ctx, op, path)
			duration := time.Since(start)

			switch {
			case err == nil:
				c.limiter.RecordSuccess()
			case upstream.StatusOf(err) == http.StatusTooManyRequests:
				c.limiter.RecordRateLimitError()
			default:
				c.limiter.RecordError()
			}

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
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
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

func mapState(state string) upstream.EntityStatus {
	switch state {
	case "running", "active":
		return upstream.StatusActive
	case "paused", "scheduled":
		return upstream.StatusPaused
	default:
		return upstream.StatusArchived
	}
}

// Health returns the current health status of the Prospectly client.
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
		return fmt.Errorf("failed to warm prospectly campaign list: %w", err)
	}

	c.logger.Info("prospectly warmup complete", "campaigns", len(entities))
	return nil
}
