package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// ErrRetryExhausted is the sentinel for errors.Is() checks against retry exhaustion
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// RetryExhaustedError is returned when every attempt failed with a retryable
// error. It unwraps to the last underlying cause so callers observe the true
// failure.
type RetryExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Cause
}

func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// Transient marks an error as retryable regardless of its concrete type
type Transient interface {
	Transient() bool
}

// IsTransient is the default retry classifier: timeouts and transient
// network failures are retryable, everything else (validation, business
// rejections) is terminal. Retrying a terminal error only wastes the saga's
// failure budget and delays legitimate compensation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transient Transient
	if errors.As(err, &transient) {
		return transient.Transient()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

// RetryConfig holds retry policy values
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the first try, so the
	// operation runs at most MaxRetries+1 times.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay per attempt.
	BackoffMultiplier float64

	// JitterFactor adds a uniform random fraction of the delay, spreading
	// retries of many sagas failing at the same moment.
	JitterFactor float64

	// ShouldRetry gates retry per error. Defaults to IsTransient.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig returns the default retry policy
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.1,
		ShouldRetry:       IsTransient,
	}
}

// RetryPolicy wraps a single operation with bounded retry and exponential
// backoff. Delays are non-blocking waits on a timer, so a retrying saga
// never stalls other sagas' progress.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, filling zero config values with defaults
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.JitterFactor < 0 {
		config.JitterFactor = 0
	}
	if config.ShouldRetry == nil {
		config.ShouldRetry = defaults.ShouldRetry
	}
	return &RetryPolicy{config: config}
}

// Execute attempts op up to MaxRetries+1 times. Non-retryable errors are
// returned unchanged immediately; cancellation stops retrying and propagates
// the context error without further attempts.
func (p *RetryPolicy) Execute(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.config.ShouldRetry(err) {
			return err
		}

		if attempt == p.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}

	return &RetryExhaustedError{Attempts: p.config.MaxRetries + 1, Cause: lastErr}
}

// delay computes min(baseDelay * multiplier^attempt, maxDelay) plus jitter
func (p *RetryPolicy) delay(attempt int) time.Duration {
	backoff := float64(p.config.BaseDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempt))
	if backoff > float64(p.config.MaxDelay) {
		backoff = float64(p.config.MaxDelay)
	}
	if p.config.JitterFactor > 0 {
		backoff += rand.Float64() * p.config.JitterFactor * backoff
	}
	return time.Duration(backoff)
}
