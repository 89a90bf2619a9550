package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/orderstack/fulfillment-system/shared/telemetry"
)

// CircuitState represents the state of a circuit breaker
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// ErrCircuitOpen is the sentinel for errors.Is() checks against fast-fails
var ErrCircuitOpen = errors.New("circuit open")

// CircuitOpenError is returned when the breaker fails fast without invoking
// the wrapped operation. It is not a downstream failure.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit '%s' is open, retry after %s", e.Name, e.RetryAfter)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// BreakerConfig holds circuit breaker policy values
type BreakerConfig struct {
	// FailureThreshold opens the circuit once the consecutive failure
	// count reaches it (>= comparison).
	FailureThreshold int

	// OpenTimeout is the minimum time the circuit stays open before an
	// explicit Reset (e.g. health-check driven recovery) is honored.
	OpenTimeout time.Duration

	// RetryTimeout is the time after the last failure before a single
	// half-open probe is allowed.
	RetryTimeout time.Duration
}

// DefaultBreakerConfig returns the default breaker policy
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      1 * time.Minute,
		RetryTimeout:     5 * time.Minute,
	}
}

// CircuitBreaker is a three-state failure gate around one named remote-call
// path. State is process-local and shared by every caller of that path:
// concurrent successes and failures from all sagas hitting the same
// downstream service contribute to one failure count. It is rebuilt Closed
// on restart.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	lastFailureTime time.Time
	openedAt        time.Time
}

// NewCircuitBreaker creates a breaker for the given dependency name
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	if config.RetryTimeout <= 0 {
		config.RetryTimeout = DefaultBreakerConfig().RetryTimeout
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// Name returns the dependency name this breaker guards
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs op through the breaker. While open and inside the probe
// window it fails fast with CircuitOpenError without invoking op. Once the
// window elapses a single half-open probe is allowed. The breaker never
// swallows the underlying error, it only decides whether to attempt the
// call. Cancellation of an in-flight call counts as failure, since the
// downstream outcome is unknown.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		elapsed := time.Since(cb.lastFailureTime)
		if elapsed < cb.config.RetryTimeout {
			retryAfter := cb.config.RetryTimeout - elapsed
			cb.mu.Unlock()
			return &CircuitOpenError{Name: cb.name, RetryAfter: retryAfter}
		}
		cb.state = StateHalfOpen
		cb.recordTransition(ctx, StateHalfOpen)
	}
	cb.mu.Unlock()

	err := op(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failureCount = 0
		if cb.state != StateClosed {
			cb.recordTransition(ctx, StateClosed)
		}
		cb.state = StateClosed
		return nil
	}

	cb.failureCount++
	cb.lastFailureTime = time.Now()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.config.FailureThreshold {
		if cb.state != StateOpen {
			cb.recordTransition(ctx, StateOpen)
		}
		cb.state = StateOpen
		cb.openedAt = cb.lastFailureTime
	}

	return err
}

// recordTransition is called with cb.mu held
func (cb *CircuitBreaker) recordTransition(ctx context.Context, to CircuitState) {
	telemetry.RecordCounter(ctx, "circuit_breaker_transitions_total",
		"Number of circuit breaker state transitions",
		1,
		attribute.String("breaker", cb.name),
		attribute.String("to_state", string(to)),
	)
}

// Reset closes the circuit and clears the failure count. Honored only after
// OpenTimeout has elapsed since the circuit opened, so a flapping dependency
// cannot be reset into a failure storm.
func (cb *CircuitBreaker) Reset() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) < cb.config.OpenTimeout {
		return false
	}

	cb.state = StateClosed
	cb.failureCount = 0
	return true
}

// BreakerManager holds one shared breaker per dependency name, created on
// demand with a common config.
type BreakerManager struct {
	mu       sync.Mutex
	config   BreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakerManager creates a manager applying config to every breaker
func NewBreakerManager(config BreakerConfig) *BreakerManager {
	return &BreakerManager{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for the given dependency name, creating it if absent
func (m *BreakerManager) Get(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, m.config)
	m.breakers[name] = cb
	return cb
}

// Execute runs op through the named breaker
func (m *BreakerManager) Execute(ctx context.Context, name string, op func(context.Context) error) error {
	return m.Get(name).Execute(ctx, op)
}
