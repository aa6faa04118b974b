package alerting

import (
	"context"

	"github.com/anirudiment/rudiment-dashbaord/internal/platform/observability"
)

// NoOpAlerter logs alerts instead of publishing them.
// Use this when SNS is not configured (local development, testing).
type NoOpAlerter struct {
	logger *observability.Logger
}

// NewNoOpAlerter creates a new no-op alerter that only logs alerts.
func NewNoOpAlerter(logger *observability.Logger) *NoOpAlerter {
	return &NoOpAlerter{
		logger: logger,
	}
}

// PublishAlert logs the alert instead of publishing to SNS.
func (a *NoOpAlerter) PublishAlert(ctx context.Context, alert Alert) error {
	if a.logger != nil {
		a.logger.Info("alert raised (SNS disabled)",
			"kind", alert.Kind,
			"platform", alert.Platform,
			"key", alert.Key,
			"message", alert.Message,
		)
	}
	return nil
}
