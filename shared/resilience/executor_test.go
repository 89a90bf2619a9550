package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_RetriesInsideBreaker(t *testing.T) {
	executor := NewExecutor(
		BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute, RetryTimeout: time.Minute},
		fastRetryConfig(3),
	)

	calls := 0
	err := executor.Invoke(context.Background(), "payments", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &transientErr{msg: "flaky"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// one Invoke that eventually succeeded leaves the breaker closed
	assert.Equal(t, StateClosed, executor.Breaker("payments").State())
}

func TestExecutor_ExhaustedRetriesCountOnceTowardBreaker(t *testing.T) {
	executor := NewExecutor(
		BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute, RetryTimeout: time.Minute},
		fastRetryConfig(2),
	)

	calls := 0
	fail := func(ctx context.Context) error {
		calls++
		return &transientErr{msg: "down"}
	}

	err := executor.Invoke(context.Background(), "inventory", fail)
	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StateClosed, executor.Breaker("inventory").State())

	err = executor.Invoke(context.Background(), "inventory", fail)
	require.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, StateOpen, executor.Breaker("inventory").State())

	// open circuit fails fast, no retry attempts spent
	err = executor.Invoke(context.Background(), "inventory", fail)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 6, calls)
}

func TestExecutor_IsolatesDependencies(t *testing.T) {
	executor := NewExecutor(
		BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute, RetryTimeout: time.Minute},
		fastRetryConfig(0),
	)

	err := executor.Invoke(context.Background(), "payments", func(ctx context.Context) error {
		return &transientErr{msg: "down"}
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, executor.Breaker("payments").State())

	err = executor.Invoke(context.Background(), "shipping", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}
