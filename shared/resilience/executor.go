package resilience

import (
	"context"
)

// Executor composes a per-dependency circuit breaker around a retry policy.
// The breaker sits outermost so that when a dependency's circuit is open the
// call fails fast without burning retry attempts against a known-bad target.
type Executor struct {
	breakers *BreakerManager
	retry    *RetryPolicy
}

// NewExecutor creates a new Executor with the given breaker and retry configs
func NewExecutor(breakerConfig BreakerConfig, retryConfig RetryConfig) *Executor {
	return &Executor{
		breakers: NewBreakerManager(breakerConfig),
		retry:    NewRetryPolicy(retryConfig),
	}
}

// NewDefaultExecutor creates an Executor with default breaker and retry configs
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultBreakerConfig(), DefaultRetryConfig())
}

// Invoke runs op through the circuit breaker registered for name, retrying
// transient failures inside the breaker. A single exhausted retry sequence
// counts as one failure toward the breaker threshold.
func (e *Executor) Invoke(ctx context.Context, name string, op func(context.Context) error) error {
	return e.breakers.Execute(ctx, name, func(ctx context.Context) error {
		return e.retry.Execute(ctx, op)
	})
}

// Breaker exposes the circuit breaker for a named dependency, primarily so
// operators can inspect state or force a reset.
func (e *Executor) Breaker(name string) *CircuitBreaker {
	return e.breakers.Get(name)
}
