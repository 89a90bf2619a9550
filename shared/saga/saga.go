package saga

import (
	"context"

	"github.com/pkg/errors"
)

// Step is one unit of a saga: a forward action plus the compensation that
// semantically undoes it. Implementations must be idempotent, retries may
// re-invoke Execute with the same data.
type Step interface {
	// Name identifies the step and the downstream dependency it calls.
	// The circuit breaker guarding the call is shared per name.
	Name() string

	// Execute performs the forward action, recording into data whatever
	// Compensate will need later.
	Execute(ctx context.Context, data Data) error

	// Compensate undoes the effect of a previously successful Execute.
	Compensate(ctx context.Context, data Data) error

	// CanExecute is consulted before Execute; false skips the step as a
	// no-op success.
	CanExecute(data Data) bool

	// CanCompensate is consulted before Compensate; false skips the
	// compensation.
	CanCompensate(data Data) bool
}

// Definition is the ordered step list for one saga type, resolved once at
// definition time and shared by every instance of that type.
type Definition struct {
	name  string
	steps []Step
}

// NewDefinition creates a saga definition from an ordered step list
func NewDefinition(name string, steps ...Step) (*Definition, error) {
	if name == "" {
		return nil, errors.New("definition name is required")
	}
	if len(steps) == 0 {
		return nil, errors.New("definition requires at least one step")
	}
	return &Definition{name: name, steps: steps}, nil
}

// Name returns the definition name
func (d *Definition) Name() string {
	return d.name
}

// Len returns the number of steps
func (d *Definition) Len() int {
	return len(d.steps)
}

// StepAt returns the step at the given index
func (d *Definition) StepAt(index int) Step {
	return d.steps[index]
}

// Invoker wraps a remote step invocation with resilience. The orchestrator
// routes every Execute and Compensate call through it; the production
// implementation composes a shared circuit breaker per dependency name with
// a retry policy.
type Invoker interface {
	Invoke(ctx context.Context, name string, op func(context.Context) error) error
}

// DirectInvoker invokes operations without any resilience wrapper. Intended
// for tests.
type DirectInvoker struct{}

// Invoke runs op directly
func (DirectInvoker) Invoke(ctx context.Context, _ string, op func(context.Context) error) error {
	return op(ctx)
}
