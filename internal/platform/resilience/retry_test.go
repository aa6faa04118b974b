package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTransient = errors.New("status 503")
	errPermanent = errors.New("bad credentials")
)

func transientOnly(err error) bool {
	return errors.Is(err, errTransient)
}

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), transientOnly, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetry_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), transientOnly, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(5), transientOnly, func(ctx context.Context) error {
		calls++
		return errPermanent
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if !errors.Is(err, errPermanent) {
		t.Errorf("Expected wrapped permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected exactly 1 call for permanent error, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), transientOnly, func(ctx context.Context) error {
		calls++
		return errTransient
	})
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("Expected last error wrapped, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetryConfig(3), transientOnly, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errTransient
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
}

func TestRetry_OnRetryReportsAttemptNumbers(t *testing.T) {
	var attempts []int
	cfg := fastRetryConfig(3)
	cfg.OnRetry = func(nextAttempt int, err error) {
		attempts = append(attempts, nextAttempt)
	}

	_ = Retry(context.Background(), cfg, transientOnly, func(ctx context.Context) error {
		return errTransient
	})

	// 3 attempts -> retries before attempts 2 and 3.
	if len(attempts) != 2 || attempts[0] != 2 || attempts[1] != 3 {
		t.Errorf("Expected OnRetry for attempts [2 3], got %v", attempts)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second, // long enough that cancel wins
	}

	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, transientOnly, func(ctx context.Context) error {
			return errTransient
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
}

func TestLinearDelay(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  250 * time.Millisecond,
	}

	tests := []struct {
		completed int
		want      time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 250 * time.Millisecond}, // capped
		{10, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := linearDelay(tt.completed, cfg); got != tt.want {
			t.Errorf("linearDelay(%d) = %v, want %v", tt.completed, got, tt.want)
		}
	}
}

func TestLinearDelay_JitterStaysInBounds(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay: 100 * time.Millisecond,
		Jitter:    0.2,
	}

	for i := 0; i < 50; i++ {
		got := linearDelay(2, cfg)
		if got < 160*time.Millisecond || got > 240*time.Millisecond {
			t.Fatalf("Jittered delay %v outside [160ms, 240ms]", got)
		}
	}
}
