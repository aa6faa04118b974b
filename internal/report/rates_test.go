package report

import (
	"testing"

	"github.com/anirudiment/rudiment-dashbaord/internal/upstream"
)

func TestRateOf(t *testing.T) {
	tests := []struct {
		name  string
		part  int
		whole int
		want  Rate
	}{
		{"half", 50, 100, 5000},
		{"full", 100, 100, 10000},
		{"zero part", 0, 100, 0},
		{"zero denominator", 10, 0, 0},
		{"rounds down", 1, 3, 3333},
		{"over 100 percent", 150, 100, 15000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RateOf(tt.part, tt.whole); got != tt.want {
				t.Errorf("RateOf(%d, %d) = %d, want %d", tt.part, tt.whole, got, tt.want)
			}
		})
	}
}

func TestRate_Formatting(t *testing.T) {
	r := RateOf(425, 1000)

	if r.Percent() != 42.5 {
		t.Errorf("Expected 42.5 percent, got %f", r.Percent())
	}
	if r.Float64() != 0.425 {
		t.Errorf("Expected fraction 0.425, got %f", r.Float64())
	}
	if r.String() != "42.50%" {
		t.Errorf("Expected '42.50%%', got %q", r.String())
	}
}

func TestRatesFor(t *testing.T) {
	stats := upstream.Stats{
		Sent:         1000,
		Delivered:    900,
		Opens:        450,
		Clicks:       90,
		Replies:      45,
		Bounces:      100,
		Unsubscribes: 9,
	}

	rates := RatesFor(stats)

	if rates.OpenRate != 5000 {
		t.Errorf("Expected open rate 50%%, got %s", rates.OpenRate)
	}
	if rates.ClickRate != 1000 {
		t.Errorf("Expected click rate 10%%, got %s", rates.ClickRate)
	}
	if rates.ReplyRate != 500 {
		t.Errorf("Expected reply rate 5%%, got %s", rates.ReplyRate)
	}
	if rates.BounceRate != 1000 {
		t.Errorf("Expected bounce rate 10%%, got %s", rates.BounceRate)
	}
	if rates.DeliveryRate != 9000 {
		t.Errorf("Expected delivery rate 90%%, got %s", rates.DeliveryRate)
	}
	if rates.UnsubscribeRate != 100 {
		t.Errorf("Expected unsubscribe rate 1%%, got %s", rates.UnsubscribeRate)
	}
}

func TestRatesFor_EmptyStats(t *testing.T) {
	rates := RatesFor(upstream.Stats{})

	if rates.OpenRate != 0 || rates.BounceRate != 0 || rates.DeliveryRate != 0 {
		t.Errorf("Expected all-zero rates for empty stats, got %+v", rates)
	}
}
