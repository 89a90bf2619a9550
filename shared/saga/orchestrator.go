package saga

import (
	"context"
	"log"
	"time"

	"github.com/orderstack/fulfillment-system/shared/events"
	"github.com/orderstack/fulfillment-system/shared/models"
	"github.com/orderstack/fulfillment-system/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// Orchestrator owns the saga lifecycle for one definition: start, advance,
// compensate, inspect. It never caches state across calls, every operation
// re-reads from the store before mutating, and every mutation is a single
// Save, so no operation leaves state partially written.
//
// Per-saga-ID mutual exclusion is the caller's responsibility: at most one
// Advance or Compensate may be in flight for a given ID. The store's
// optimistic version check turns violations into OptimisticLockError rather
// than lost updates. Different saga IDs are fully independent.
type Orchestrator struct {
	definition *Definition
	store      Store
	invoker    Invoker
	publisher  events.Publisher
	maxRetries int
}

// OrchestratorOption configures the orchestrator
type OrchestratorOption func(*Orchestrator)

// WithPublisher attaches an event publisher for saga lifecycle events
func WithPublisher(publisher events.Publisher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.publisher = publisher
	}
}

// WithMaxRetries sets the saga-level retry budget recorded on new states.
// Drivers, not the orchestrator, consume it.
func WithMaxRetries(maxRetries int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.maxRetries = maxRetries
	}
}

// NewOrchestrator creates a new orchestrator for the given definition
func NewOrchestrator(definition *Definition, store Store, invoker Invoker, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		definition: definition,
		store:      store,
		invoker:    invoker,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start constructs the initial state and persists it. A saga ID that already
// has stored state is rejected with AlreadyExistsError, callers must
// generate a fresh ID per attempt or inspect the existing state first.
func (o *Orchestrator) Start(ctx context.Context, id models.ID, data Data) (*State, error) {
	if id.String() == "" {
		return nil, errors.New("saga ID is required")
	}

	_, err := o.store.Get(ctx, id)
	if err == nil {
		return nil, &AlreadyExistsError{SagaID: id}
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "failed to check existing saga state")
	}

	state := NewState(id, o.definition.Name(), data)
	state.MaxRetries = o.maxRetries

	if err := o.store.Save(ctx, state); err != nil {
		return nil, errors.Wrap(err, "failed to save initial saga state")
	}

	o.publishEvent(ctx, events.SagaStartedEvent, state)
	return state, nil
}

// Advance loads the saga and executes the step at the current index through
// the resilience wrapper. On success the index moves forward and the saga
// returns to Pending, ready for the next Advance. When the step list is
// exhausted the saga completes. On step failure the saga is marked Failed
// and the error is returned to the caller, who decides whether and when to
// invoke Compensate, the orchestrator never auto-compensates.
//
// Duplicate triggers are tolerated: a saga outside Pending/Running is left
// untouched with a warning.
func (o *Orchestrator) Advance(ctx context.Context, id models.ID) (*State, error) {
	state, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !state.CanAdvance() {
		log.Printf("saga %s: advance ignored in status %s", id, state.Status)
		return state, nil
	}

	state.MarkRunning()
	if err := o.store.Save(ctx, state); err != nil {
		return nil, errors.Wrap(err, "failed to mark saga running")
	}

	if state.CurrentStepIndex >= o.definition.Len() {
		state.MarkCompleted()
		if err := o.store.Save(ctx, state); err != nil {
			return nil, errors.Wrap(err, "failed to mark saga completed")
		}
		o.recordTransition(ctx, state)
		o.publishEvent(ctx, events.SagaCompletedEvent, state)
		return state, nil
	}

	step := o.definition.StepAt(state.CurrentStepIndex)

	if !step.CanExecute(state.Data) {
		log.Printf("saga %s: step %s declined execution, skipping", id, step.Name())
		state.MarkStepCompleted()
		if err := o.store.Save(ctx, state); err != nil {
			return nil, errors.Wrap(err, "failed to save saga state after skipped step")
		}
		o.publishEvent(ctx, events.SagaStepCompletedEvent, state)
		return state, nil
	}

	stepStart := time.Now()
	execErr := o.invoker.Invoke(ctx, step.Name(), func(ctx context.Context) error {
		return step.Execute(ctx, state.Data)
	})
	telemetry.RecordHistogram(ctx, "saga_step_duration_seconds",
		"Wall clock duration of saga step execution",
		time.Since(stepStart).Seconds(),
		attribute.String("definition", o.definition.Name()),
		attribute.String("step", step.Name()),
		attribute.Bool("success", execErr == nil),
	)
	if execErr != nil {
		stepErr := &StepExecutionError{
			SagaID:    id,
			StepName:  step.Name(),
			StepIndex: state.CurrentStepIndex,
			Cause:     execErr,
		}
		state.MarkFailed(execErr)
		if err := o.store.Save(ctx, state); err != nil {
			return nil, errors.Wrap(err, "failed to record saga step failure")
		}
		o.recordTransition(ctx, state)
		o.publishEvent(ctx, events.SagaStepFailedEvent, state)
		return state, stepErr
	}

	state.MarkStepCompleted()
	if err := o.store.Save(ctx, state); err != nil {
		return nil, errors.Wrap(err, "failed to save saga state after step")
	}
	o.publishEvent(ctx, events.SagaStepCompletedEvent, state)
	return state, nil
}

// Compensate unwinds the steps that were successfully executed, in reverse
// order, through the same resilience wrapper. A failing compensation is
// logged and the loop continues, skipping compensations would leave more
// inconsistent state than attempting all of them. The saga ends Compensated
// regardless of individual compensation outcomes; only a store write failure
// leaves it Failed.
func (o *Orchestrator) Compensate(ctx context.Context, id models.ID) (*State, error) {
	state, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !state.CanCompensate() {
		return state, errors.Wrapf(ErrNotCompensable, "saga '%s' has status %s", id, state.Status)
	}

	state.MarkCompensating()
	if err := o.store.Save(ctx, state); err != nil {
		return nil, errors.Wrap(err, "failed to mark saga compensating")
	}
	o.publishEvent(ctx, events.SagaCompensationStartedEvent, state)

	// The step at CurrentStepIndex threw without completing; it produced no
	// compensable effect unless it recorded one in data before failing, in
	// which case its predecessor compensations still see the marker.
	for i := state.CurrentStepIndex - 1; i >= 0; i-- {
		step := o.definition.StepAt(i)

		if !step.CanCompensate(state.Data) {
			log.Printf("saga %s: step %s declined compensation, skipping", id, step.Name())
			continue
		}

		compErr := o.invoker.Invoke(ctx, step.Name(), func(ctx context.Context) error {
			return step.Compensate(ctx, state.Data)
		})
		if compErr != nil {
			cerr := &CompensationError{
				SagaID:    id,
				StepName:  step.Name(),
				StepIndex: i,
				Cause:     compErr,
			}
			log.Printf("saga compensation error: %v", cerr)
			telemetry.RecordCounter(ctx, "saga_compensation_failures_total",
				"Number of individual step compensations that failed",
				1,
				attribute.String("definition", o.definition.Name()),
				attribute.String("step", step.Name()),
			)
			continue
		}
	}

	state.MarkCompensated()
	if err := o.store.Save(ctx, state); err != nil {
		state.MarkFailed(err)
		if saveErr := o.store.Save(ctx, state); saveErr != nil {
			log.Printf("saga %s: failed to record compensation store failure: %v", id, saveErr)
		}
		return nil, errors.Wrap(err, "failed to mark saga compensated")
	}
	o.recordTransition(ctx, state)
	o.publishEvent(ctx, events.SagaCompensatedEvent, state)
	return state, nil
}

// GetState is a read-through to the store
func (o *Orchestrator) GetState(ctx context.Context, id models.ID) (*State, error) {
	return o.store.Get(ctx, id)
}

// Definition returns the definition this orchestrator drives
func (o *Orchestrator) Definition() *Definition {
	return o.definition
}

type sagaEventPayload struct {
	SagaID     string `json:"saga_id"`
	Definition string `json:"definition"`
	Status     string `json:"status"`
	StepIndex  int    `json:"step_index"`
	Error      string `json:"error,omitempty"`
}

func (o *Orchestrator) publishEvent(ctx context.Context, eventType string, state *State) {
	if o.publisher == nil {
		return
	}

	event := events.NewEvent(state.ID, eventType, sagaEventPayload{
		SagaID:     state.ID.String(),
		Definition: state.Definition,
		Status:     string(state.Status),
		StepIndex:  state.CurrentStepIndex,
		Error:      state.Error,
	}).WithCorrelationID(state.ID)

	if err := o.publisher.Publish(ctx, event); err != nil {
		log.Printf("saga %s: failed to publish %s event: %v", state.ID, eventType, err)
	}
}

func (o *Orchestrator) recordTransition(ctx context.Context, state *State) {
	telemetry.RecordCounter(ctx, "saga_transitions_total",
		"Number of saga transitions into a terminal status",
		1,
		attribute.String("definition", o.definition.Name()),
		attribute.String("status", string(state.Status)),
	)
}
