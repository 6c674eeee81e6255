package transport

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/postalsys/deskrelay/internal/logging"
)

// ErrRetriesExhausted is returned by Retry when MaxAttempts is reached.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// ReconnectConfig contains configuration for reconnection behavior.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int // 0 means unlimited
	Jitter       float64
}

// DefaultReconnectConfig returns the default reconnection settings.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Backoff calculates reconnect delays.
type Backoff struct {
	cfg ReconnectConfig

	// rand returns a value in [0, 1). Replaced in tests.
	rand func() float64
}

// NewBackoff creates a new backoff calculator.
func NewBackoff(cfg ReconnectConfig) *Backoff {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &Backoff{cfg: cfg, rand: rand.Float64}
}

// Base returns the delay for the given attempt (0-indexed) without jitter.
func (b *Backoff) Base(attempt int) time.Duration {
	if attempt <= 0 {
		return b.cfg.InitialDelay
	}

	delay := float64(b.cfg.InitialDelay) * math.Pow(b.cfg.Multiplier, float64(attempt))
	if delay > float64(b.cfg.MaxDelay) {
		delay = float64(b.cfg.MaxDelay)
	}
	return time.Duration(delay)
}

// Delay returns the jittered delay for the given attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	d := b.Base(attempt)
	if b.cfg.Jitter <= 0 {
		return d
	}

	jitterRange := float64(d) * b.cfg.Jitter
	jitter := (b.rand()*2 - 1) * jitterRange

	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		result = d
	}
	return result
}

// Retry calls connect until it succeeds, ctx is cancelled or MaxAttempts
// failures have happened. The first call is made immediately.
func Retry(ctx context.Context, cfg ReconnectConfig, logger *slog.Logger, connect func(context.Context) error) error {
	logger = logging.OrNop(logger)
	b := NewBackoff(cfg)

	for attempt := 0; ; attempt++ {
		err := connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cfg.MaxAttempts > 0 && attempt+1 >= cfg.MaxAttempts {
			return errors.Join(ErrRetriesExhausted, err)
		}

		delay := b.Delay(attempt)
		logger.Warn("connect failed, retrying",
			logging.KeyAttempt, attempt+1,
			logging.KeyDelay, delay.Round(time.Millisecond),
			logging.KeyError, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
