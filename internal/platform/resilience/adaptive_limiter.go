package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// AdaptiveLimiter is a token bucket whose rate tracks upstream behavior.
// Marketing platforms throttle dynamically and their published quotas are
// optimistic, so the limiter halves its rate on each 429 (exponentially
// for repeated ones, floored at minRate) and creeps back up by
// recoveryFactor after a window of consecutive successes, capped at
// maxRate.
type AdaptiveLimiter struct {
	limiter *RateLimiter

	baseRate       float64
	minRate        float64
	maxRate        float64
	backoffFactor  float64
	recoveryFactor float64
	recoveryWindow int

	currentRate         float64
	consecutiveSuccess  int64
	consecutiveFailures int64
	lastAdjustment      time.Time
	mu                  sync.RWMutex

	totalRequests int64
	rateLimitHits int64
	adaptations   int64
	currentLevel  int32 // 0=min, 50=base, 100=max
}

// AdaptiveLimiterConfig configures the adaptive limiter. Rates are in
// requests per second.
type AdaptiveLimiterConfig struct {
	BaseRate       float64 // starting rate (default 1.0)
	MinRate        float64 // backoff floor (default 0.1)
	MaxRate        float64 // recovery ceiling (default 10.0)
	Burst          int     // bucket capacity (default 2*BaseRate)
	BackoffFactor  float64 // rate multiplier per failure (default 0.5)
	RecoveryFactor float64 // rate multiplier on recovery (default 1.1)
	RecoveryWindow int     // consecutive successes before recovery (default 10)
}

// NewAdaptiveLimiter creates an adaptive limiter at its base rate.
func NewAdaptiveLimiter(cfg AdaptiveLimiterConfig) *AdaptiveLimiter {
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = 1.0
	}
	if cfg.MinRate <= 0 {
		cfg.MinRate = 0.1
	}
	if cfg.MaxRate <= 0 {
		cfg.MaxRate = 10.0
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.BaseRate * 2)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.BackoffFactor <= 0 || cfg.BackoffFactor >= 1 {
		cfg.BackoffFactor = 0.5
	}
	if cfg.RecoveryFactor <= 1 {
		cfg.RecoveryFactor = 1.1
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 10
	}

	// Keep minRate <= baseRate <= maxRate.
	if cfg.MinRate > cfg.BaseRate {
		cfg.MinRate = cfg.BaseRate
	}
	if cfg.MaxRate < cfg.BaseRate {
		cfg.MaxRate = cfg.BaseRate
	}

	return &AdaptiveLimiter{
		limiter:        NewRateLimiter(cfg.BaseRate, cfg.Burst),
		baseRate:       cfg.BaseRate,
		minRate:        cfg.MinRate,
		maxRate:        cfg.MaxRate,
		backoffFactor:  cfg.BackoffFactor,
		recoveryFactor: cfg.RecoveryFactor,
		recoveryWindow: cfg.RecoveryWindow,
		currentRate:    cfg.BaseRate,
		lastAdjustment: time.Now(),
	}
}

// NewAdaptiveLimiterFromRPM creates an adaptive limiter from
// requests-per-minute quotas.
func NewAdaptiveLimiterFromRPM(baseRPM, minRPM, maxRPM int) *AdaptiveLimiter {
	return NewAdaptiveLimiter(AdaptiveLimiterConfig{
		BaseRate: float64(baseRPM) / 60.0,
		MinRate:  float64(minRPM) / 60.0,
		MaxRate:  float64(maxRPM) / 60.0,
	})
}

// Wait blocks until a token is available.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	atomic.AddInt64(&a.totalRequests, 1)
	return a.limiter.Wait(ctx)
}

// Allow admits one request without blocking.
func (a *AdaptiveLimiter) Allow() bool {
	atomic.AddInt64(&a.totalRequests, 1)
	return a.limiter.Allow()
}

// RecordSuccess notes a successful call. Enough in a row raise the rate.
func (a *AdaptiveLimiter) RecordSuccess() {
	atomic.StoreInt64(&a.consecutiveFailures, 0)

	successes := atomic.AddInt64(&a.consecutiveSuccess, 1)

	if int(successes) >= a.recoveryWindow {
		a.tryRecover()
	}
}

// RecordRateLimitError notes an upstream 429 and backs off immediately.
func (a *AdaptiveLimiter) RecordRateLimitError() {
	atomic.AddInt64(&a.rateLimitHits, 1)
	atomic.StoreInt64(&a.consecutiveSuccess, 0)
	failures := atomic.AddInt64(&a.consecutiveFailures, 1)

	a.backoff(int(failures))
}

// RecordError notes a non-throttle failure. It interrupts the recovery
// streak without reducing the rate.
func (a *AdaptiveLimiter) RecordError() {
	atomic.StoreInt64(&a.consecutiveSuccess, 0)
}

func (a *AdaptiveLimiter) backoff(failureCount int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Exponential in the failure streak, capped so a burst of 429s does
	// not park the limiter near zero.
	if failureCount > 5 {
		failureCount = 5
	}

	multiplier := 1.0
	for i := 0; i < failureCount; i++ {
		multiplier *= a.backoffFactor
	}

	newRate := a.currentRate * multiplier
	if newRate < a.minRate {
		newRate = a.minRate
	}

	if newRate != a.currentRate {
		a.currentRate = newRate
		a.limiter.SetRate(newRate)
		a.lastAdjustment = time.Now()
		atomic.AddInt64(&a.adaptations, 1)
		a.updateLevel()
	}
}

func (a *AdaptiveLimiter) tryRecover() {
	a.mu.Lock()
	defer a.mu.Unlock()

	atomic.StoreInt64(&a.consecutiveSuccess, 0)

	if a.currentRate >= a.maxRate {
		return
	}

	// At most one increase per second.
	if time.Since(a.lastAdjustment) < time.Second {
		return
	}

	newRate := a.currentRate * a.recoveryFactor
	if newRate > a.maxRate {
		newRate = a.maxRate
	}

	if newRate != a.currentRate {
		a.currentRate = newRate
		a.limiter.SetRate(newRate)
		a.lastAdjustment = time.Now()
		atomic.AddInt64(&a.adaptations, 1)
		a.updateLevel()
	}
}

// updateLevel maps the current rate onto 0-100 for gauges. Caller must
// hold the lock.
func (a *AdaptiveLimiter) updateLevel() {
	var level int32
	if a.currentRate <= a.baseRate {
		ratio := (a.currentRate - a.minRate) / (a.baseRate - a.minRate)
		level = int32(ratio * 50)
	} else {
		ratio := (a.currentRate - a.baseRate) / (a.maxRate - a.baseRate)
		level = 50 + int32(ratio*50)
	}
	atomic.StoreInt32(&a.currentLevel, level)
}

// Reset restores the base rate and clears the streak counters.
func (a *AdaptiveLimiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.currentRate = a.baseRate
	a.limiter.SetRate(a.baseRate)
	atomic.StoreInt64(&a.consecutiveSuccess, 0)
	atomic.StoreInt64(&a.consecutiveFailures, 0)
	a.lastAdjustment = time.Now()
	a.updateLevel()
}

// AdaptiveLimiterStats is a snapshot of the limiter.
type AdaptiveLimiterStats struct {
	CurrentRate     float64
	BaseRate        float64
	MinRate         float64
	MaxRate         float64
	Level           int // 0=min, 50=base, 100=max
	TotalRequests   int64
	RateLimitHits   int64
	Adaptations     int64
	AvailableTokens float64
}

// Stats returns a snapshot of the limiter.
func (a *AdaptiveLimiter) Stats() AdaptiveLimiterStats {
	a.mu.RLock()
	currentRate := a.currentRate
	a.mu.RUnlock()

	_, _, tokens := a.limiter.Stats()

	return AdaptiveLimiterStats{
		CurrentRate:     currentRate,
		BaseRate:        a.baseRate,
		MinRate:         a.minRate,
		MaxRate:         a.maxRate,
		Level:           int(atomic.LoadInt32(&a.currentLevel)),
		TotalRequests:   atomic.LoadInt64(&a.totalRequests),
		RateLimitHits:   atomic.LoadInt64(&a.rateLimitHits),
		Adaptations:     atomic.LoadInt64(&a.adaptations),
		AvailableTokens: tokens,
	}
}

// CurrentRate returns the current rate in requests per second.
func (a *AdaptiveLimiter) CurrentRate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentRate
}

// IsThrottled reports whether the limiter is running below its base rate.
func (a *AdaptiveLimiter) IsThrottled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentRate < a.baseRate
}
