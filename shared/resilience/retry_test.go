package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transientErr struct{ msg string }

func (e *transientErr) Error() string   { return e.msg }
func (e *transientErr) Transient() bool { return true }

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:        maxRetries,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFactor:      0,
		ShouldRetry:       func(error) bool { return true },
	}
}

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	policy := NewRetryPolicy(fastRetryConfig(3))

	calls := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return &transientErr{msg: "temporarily unavailable"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_ExhaustionWrapsLastCause(t *testing.T) {
	policy := NewRetryPolicy(fastRetryConfig(2))

	boom := &transientErr{msg: "still down"}
	calls := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "maxRetries of 2 means 3 attempts total")
	assert.ErrorIs(t, err, ErrRetryExhausted)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, error(boom))
}

func TestRetryPolicy_NonRetryableReturnedUnchanged(t *testing.T) {
	config := fastRetryConfig(5)
	config.ShouldRetry = IsTransient
	policy := NewRetryPolicy(config)

	boom := errors.New("insufficient funds")
	calls := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_CancellationStopsRetries(t *testing.T) {
	config := fastRetryConfig(10)
	config.BaseDelay = 50 * time.Millisecond
	policy := NewRetryPolicy(config)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Execute(ctx, func(ctx context.Context) error {
		calls++
		return &transientErr{msg: "down"}
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_DelayGrowsAndCaps(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		MaxRetries:        5,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          400 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFactor:      0,
	})

	assert.Equal(t, 100*time.Millisecond, policy.delay(0))
	assert.Equal(t, 200*time.Millisecond, policy.delay(1))
	assert.Equal(t, 400*time.Millisecond, policy.delay(2))
	assert.Equal(t, 400*time.Millisecond, policy.delay(3))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "transient marker", err: &transientErr{msg: "x"}, want: true},
		{name: "business error", err: errors.New("order rejected"), want: false},
		{name: "wrapped deadline", err: errors.Join(errors.New("call failed"), context.DeadlineExceeded), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
