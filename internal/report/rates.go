package report

import (
	"fmt"

	"github.com/anirudiment/rudiment-dashbaord/internal/upstream"
)

// rateScale is basis points: 100% = 10000.
const rateScale int64 = 10000

// Rate represents a percentage in basis points (1 bps = 0.01%).
// Fixed-point int64 keeps rate math exact and comparable.
type Rate int64

// RateOf computes part/whole as a Rate. A zero denominator yields zero,
// never a division error.
func RateOf(part, whole int) Rate {
	if whole == 0 {
		return 0
	}
	return Rate(int64(part) * rateScale / int64(whole))
}

// Float64 returns the rate as a fraction (0.0-1.0).
func (r Rate) Float64() float64 {
	return float64(r) / float64(rateScale)
}

// Percent returns the rate as a percentage value (0.0-100.0).
func (r Rate) Percent() float64 {
	return float64(r) / 100.0
}

// String formats as a percentage, e.g. "42.50%".
func (r Rate) String() string {
	return fmt.Sprintf("%.2f%%", r.Percent())
}

// Rates holds the derived percentages for one campaign's stats.
type Rates struct {
	OpenRate        Rate `json:"open_rate"`
	ClickRate       Rate `json:"click_rate"`
	ReplyRate       Rate `json:"reply_rate"`
	BounceRate      Rate `json:"bounce_rate"`
	DeliveryRate    Rate `json:"delivery_rate"`
	UnsubscribeRate Rate `json:"unsubscribe_rate"`
}

// RatesFor derives percentage rates from raw counters. Opens and clicks
// are measured against delivered mail, bounces against sent.
func RatesFor(s upstream.Stats) Rates {
	return Rates{
		OpenRate:        RateOf(s.Opens, s.Delivered),
		ClickRate:       RateOf(s.Clicks, s.Delivered),
		ReplyRate:       RateOf(s.Replies, s.Delivered),
		BounceRate:      RateOf(s.Bounces, s.Sent),
		DeliveryRate:    RateOf(s.Delivered, s.Sent),
		UnsubscribeRate: RateOf(s.Unsubscribes, s.Delivered),
	}
}
