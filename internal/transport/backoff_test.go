package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_Base(t *testing.T) {
	b := NewBackoff(ReconnectConfig{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{20, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := b.Base(tt.attempt); got != tt.want {
			t.Errorf("Base(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_DelayJitterBounds(t *testing.T) {
	cfg := DefaultReconnectConfig()
	b := NewBackoff(cfg)

	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		b.rand = func() float64 { return r }
		for attempt := 0; attempt < 8; attempt++ {
			base := b.Base(attempt)
			got := b.Delay(attempt)
			lo := time.Duration(float64(base) * (1 - cfg.Jitter))
			hi := time.Duration(float64(base) * (1 + cfg.Jitter))
			if got < lo || got > hi {
				t.Errorf("Delay(%d) with rand=%v = %v, want within [%v, %v]", attempt, r, got, lo, hi)
			}
		}
	}
}

func TestBackoff_NoJitter(t *testing.T) {
	b := NewBackoff(ReconnectConfig{InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 3})
	if got := b.Delay(1); got != 150*time.Millisecond {
		t.Errorf("Delay(1) = %v, want 150ms", got)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	cfg := ReconnectConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	calls := 0
	err := Retry(context.Background(), cfg, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("connect called %d times, want 3", calls)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	cfg := ReconnectConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, MaxAttempts: 4}
	cause := errors.New("refused")

	calls := 0
	err := Retry(context.Background(), cfg, nil, func(context.Context) error {
		calls++
		return cause
	})
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, cause) {
		t.Errorf("Retry() error = %v, want exhausted wrapping cause", err)
	}
	if calls != 4 {
		t.Errorf("connect called %d times, want 4", calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := ReconnectConfig{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, nil, func(context.Context) error { return errors.New("refused") })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Retry() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry() did not return after cancel")
	}
}
