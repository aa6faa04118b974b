package alerting

import (
	"context"
	"testing"
	"time"
)

func TestNewPublisher_Validation(t *testing.T) {
	if _, err := NewPublisher(PublisherConfig{}); err == nil {
		t.Error("expected error when SNS client is missing")
	}
}

func TestPublisher_Cooldown(t *testing.T) {
	current := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p := &Publisher{
		cooldown: time.Minute,
		lastSent: make(map[string]time.Time),
		now:      func() time.Time { return current },
	}

	alert := Alert{Kind: KindRefreshFailed, Platform: "mailblast"}

	if p.suppressed(alert) {
		t.Error("first alert should not be suppressed")
	}
	if !p.suppressed(alert) {
		t.Error("repeat alert within cooldown should be suppressed")
	}

	// Different platform is tracked independently.
	if p.suppressed(Alert{Kind: KindRefreshFailed, Platform: "prospectly"}) {
		t.Error("alert for another platform should not be suppressed")
	}

	current = current.Add(2 * time.Minute)
	if p.suppressed(alert) {
		t.Error("alert after cooldown should not be suppressed")
	}
}

func TestNoOpAlerter(t *testing.T) {
	a := NewNoOpAlerter(nil)
	err := a.PublishAlert(context.Background(), Alert{
		Kind:     KindCircuitOpen,
		Platform: "mailblast",
		Message:  "circuit breaker opened",
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
