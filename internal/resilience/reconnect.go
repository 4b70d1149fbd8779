package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig bounds how long boot waits for a dependency.
type ReconnectConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	Multiplier  float64
	MaxBackoff  time.Duration
}

func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

func (c *ReconnectConfig) retryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       c.MaxAttempts,
		InitialBackoff:    c.Backoff,
		MaxBackoff:        c.MaxBackoff,
		BackoffMultiplier: c.Multiplier,
	}
}

// ReconnectFunc is a function that attempts to connect
type ReconnectFunc func(ctx context.Context) error

// Reconnect waits for target to become reachable, calling fn until it
// succeeds. Every failure is retried; only ctx or the attempt bound stop it.
func Reconnect(ctx context.Context, logger zerolog.Logger, target string, fn ReconnectFunc, config *ReconnectConfig) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}
	logger = logger.With().Str("target", target).Logger()

	tries := 0
	retry := config.retryConfig().WithOnRetry(func(attempt int, err error, wait time.Duration) {
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", config.MaxAttempts).
			Dur("backoff", wait).
			Msg("Connection attempt failed, retrying")
	})

	err := Retry(ctx, func(ctx context.Context) error {
		tries++
		return fn(ctx)
	}, retry, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to connect to %s after %d attempts: %w", target, tries, err)
	}

	logger.Info().Int("attempts", tries).Msg("Connection established")
	return nil
}
