package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// RetryConfig controls Retry.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool // adds up to 25% of the backoff

	// OnRetry is called before each wait with the 1-based attempt that failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// NewRetryConfig builds a retry configuration from attempt and millisecond settings.
func NewRetryConfig(maxAttempts, initialBackoffMs int) *RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	return cfg
}

// WithOnRetry returns a copy of c that reports retries to fn. Shared configs
// stay untouched.
func (c *RetryConfig) WithOnRetry(fn func(attempt int, err error, wait time.Duration)) *RetryConfig {
	cp := *c
	cp.OnRetry = fn
	return &cp
}

func (c *RetryConfig) wait(attempt int) time.Duration {
	d := CalculateBackoff(attempt, c.InitialBackoff, c.MaxBackoff, c.BackoffMultiplier)
	if c.Jitter && d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/4 + 1))
		if d > c.MaxBackoff {
			d = c.MaxBackoff
		}
	}
	return d
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableError classifies an error returned by a RetryableFunc.
type IsRetryableError func(error) bool

// Retry runs fn until it succeeds, fails with an error isRetryable rejects,
// runs out of attempts, or ctx ends. A nil isRetryable retries everything.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := max(config.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= attempts || (isRetryable != nil && !isRetryable(err)) {
			return err
		}

		wait := config.wait(attempt - 1)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// CalculateBackoff returns initialBackoff * multiplier^attempt, capped at
// maxBackoff.
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// transientMessages are fragments of dial, HTTP and Postgres errors that
// usually clear on their own.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"unavailable",
	"network is unreachable",
	"no route to host",
	"deadline exceeded",
	"timeout",
	"resource exhausted",
	"too many connections",
	"too many clients",
	"rate limit",
	"status code: 429",
	"status code: 502",
	"status code: 503",
	"status code: 504",
	"sqlstate 40001", // serialization failure
	"sqlstate 57p01", // admin shutdown
}

// IsRetryableNetworkError reports whether err looks transient: an explicit
// RetryableError, a network timeout, or a known transient message.
// Cancellation is never retried.
func IsRetryableNetworkError(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case IsRetryable(err):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range transientMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// RetryableError marks an error as safe to retry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as retryable. A nil err stays nil.
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err wraps a RetryableError.
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
