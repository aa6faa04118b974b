package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anirudiment/rudiment-dashbaord/internal/platform/aws"
	"github.com/anirudiment/rudiment-dashbaord/internal/platform/observability"
)

// Alert kinds published by the dashboard.
const (
	KindRefreshFailed = "refresh_failed"
	KindCircuitOpen   = "circuit_open"
)

// Alert describes a health event worth paging on.
type Alert struct {
	Kind       string    `json:"kind"`
	Platform   string    `json:"platform"`
	Key        string    `json:"key,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Alerter publishes health alerts to an external channel.
type Alerter interface {
	PublishAlert(ctx context.Context, alert Alert) error
}

// Publisher publishes alerts to SNS. Alerts with the same kind and
// platform are suppressed while a previous one is still within the
// cooldown window, so a flapping upstream does not flood the topic.
type Publisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	cooldown  time.Duration
	logger    *observability.Logger
	metrics   *observability.Metrics

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Cooldown  time.Duration
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// NewPublisher creates a new health alert publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}

	return &Publisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		cooldown:  cfg.Cooldown,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		lastSent:  make(map[string]time.Time),
		now:       time.Now,
	}, nil
}

// PublishAlert publishes a health alert to SNS.
func (p *Publisher) PublishAlert(ctx context.Context, alert Alert) error {
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = p.now()
	}

	if p.suppressed(alert) {
		if p.metrics != nil {
			p.metrics.RecordAlertPublished(ctx, alert.Kind, "suppressed")
		}
		return nil
	}

	attributes := map[string]string{
		"kind":     alert.Kind,
		"platform": alert.Platform,
	}

	err := p.snsClient.Publish(ctx, p.topicARN, alert, attributes)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordAlertPublished(ctx, alert.Kind, "error")
		}
		if p.logger != nil {
			p.logger.LogError(ctx, "failed to publish alert", err,
				"kind", alert.Kind,
				"platform", alert.Platform,
				"topic_arn", p.topicARN,
			)
		}
		return fmt.Errorf("alert publish failed: %w", err)
	}

	if p.metrics != nil {
		p.metrics.RecordAlertPublished(ctx, alert.Kind, "success")
	}
	if p.logger != nil {
		p.logger.Info("published alert",
			"kind", alert.Kind,
			"platform", alert.Platform,
			"topic_arn", p.topicARN,
		)
	}

	return nil
}

// suppressed reports whether an equivalent alert was sent within the
// cooldown window, and marks this one as sent if not.
func (p *Publisher) suppressed(alert Alert) bool {
	key := alert.Kind + "|" + alert.Platform

	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.lastSent[key]; ok && p.now().Sub(last) < p.cooldown {
		return true
	}
	p.lastSent[key] = p.now()
	return false
}

// CircuitBreakerState returns the current SNS circuit breaker state
func (p *Publisher) CircuitBreakerState() string {
	return p.snsClient.CircuitBreakerState().String()
}
