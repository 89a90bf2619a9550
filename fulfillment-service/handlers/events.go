package handlers

import (
	"context"
	"log"

	"github.com/orderstack/fulfillment-system/fulfillment-service/application"
	"github.com/orderstack/fulfillment-system/shared/events"
	"github.com/pkg/errors"
)

// FulfillmentEventHandlers is the saga driver loop: it reacts to lifecycle
// events coming back through SQS and decides the next move. Step completions
// advance the saga, step failures consume the retry budget and fall back to
// compensation when it runs out. Every handled event is journaled for the
// audit trail.
type FulfillmentEventHandlers struct {
	startFulfillment      *application.StartFulfillment
	advanceFulfillment    *application.AdvanceFulfillment
	compensateFulfillment *application.CompensateFulfillment
	retryFulfillment      *application.RetryFulfillment
	journal               events.EventStore
}

// NewFulfillmentEventHandlers creates new fulfillment event handlers
func NewFulfillmentEventHandlers(
	startFulfillment *application.StartFulfillment,
	advanceFulfillment *application.AdvanceFulfillment,
	compensateFulfillment *application.CompensateFulfillment,
	retryFulfillment *application.RetryFulfillment,
	journal events.EventStore,
) *FulfillmentEventHandlers {
	return &FulfillmentEventHandlers{
		startFulfillment:      startFulfillment,
		advanceFulfillment:    advanceFulfillment,
		compensateFulfillment: compensateFulfillment,
		retryFulfillment:      retryFulfillment,
		journal:               journal,
	}
}

// HandlerID returns the unique identifier for this event handler
func (h *FulfillmentEventHandlers) HandlerID() string {
	return "fulfillment-service-event-handler"
}

// Handle implements the events.EventHandler interface
func (h *FulfillmentEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	if !event.Topic.Matches("fulfillment.#") && !event.Topic.Matches("saga.#") {
		return nil
	}

	h.journalEvent(ctx, event)

	switch event.EventType {
	case events.FulfillmentRequestedEvent:
		return h.HandleFulfillmentRequested(ctx, event)
	case events.SagaStartedEvent, events.SagaStepCompletedEvent, events.FulfillmentAdvanceRequested:
		return h.HandleAdvanceTrigger(ctx, event)
	case events.SagaStepFailedEvent:
		return h.HandleStepFailed(ctx, event)
	case events.FulfillmentRetryRequested:
		return h.HandleRetryRequested(ctx, event)
	case events.FulfillmentCompensateRequest:
		return h.HandleCompensateRequest(ctx, event)
	default:
		// Unknown event type, ignore
		return nil
	}
}

// HandleFulfillmentRequested starts a new fulfillment saga for an order
func (h *FulfillmentEventHandlers) HandleFulfillmentRequested(ctx context.Context, event *events.Event) error {
	var cmd application.StartFulfillmentCommand
	if err := event.UnmarshalPayload(&cmd); err != nil {
		return errors.Wrap(err, "malformed fulfillment request payload")
	}

	if _, err := h.startFulfillment.Execute(ctx, &cmd); err != nil {
		log.Printf("failed to start fulfillment for order %s: %v", cmd.OrderID, err)
		return err
	}

	return nil
}

// HandleAdvanceTrigger executes the next step of the saga named in the event
func (h *FulfillmentEventHandlers) HandleAdvanceTrigger(ctx context.Context, event *events.Event) error {
	sagaID, err := h.sagaID(event)
	if err != nil {
		return err
	}

	cmd := &application.AdvanceFulfillmentCommand{FulfillmentID: sagaID}
	if _, err := h.advanceFulfillment.Execute(ctx, cmd); err != nil {
		log.Printf("failed to advance fulfillment %s: %v", sagaID, err)
		return err
	}

	return nil
}

// HandleStepFailed retries the failed saga while budget remains, then
// requests compensation
func (h *FulfillmentEventHandlers) HandleStepFailed(ctx context.Context, event *events.Event) error {
	sagaID, err := h.sagaID(event)
	if err != nil {
		return err
	}

	_, err = h.retryFulfillment.Execute(ctx, &application.RetryFulfillmentCommand{FulfillmentID: sagaID})
	if err == nil {
		return h.HandleAdvanceTrigger(ctx, event)
	}

	if !errors.Is(err, application.ErrRetryBudgetExhausted) {
		log.Printf("failed to retry fulfillment %s: %v", sagaID, err)
		return err
	}

	log.Printf("fulfillment %s exhausted its retry budget, compensating", sagaID)
	cmd := &application.CompensateFulfillmentCommand{FulfillmentID: sagaID}
	if _, err := h.compensateFulfillment.Execute(ctx, cmd); err != nil {
		log.Printf("failed to compensate fulfillment %s: %v", sagaID, err)
		return err
	}

	return nil
}

// HandleRetryRequested requeues a failed fulfillment on operator request
func (h *FulfillmentEventHandlers) HandleRetryRequested(ctx context.Context, event *events.Event) error {
	sagaID, err := h.sagaID(event)
	if err != nil {
		return err
	}

	cmd := &application.RetryFulfillmentCommand{FulfillmentID: sagaID}
	if _, err := h.retryFulfillment.Execute(ctx, cmd); err != nil {
		log.Printf("failed to retry fulfillment %s: %v", sagaID, err)
		return err
	}

	return h.HandleAdvanceTrigger(ctx, event)
}

// HandleCompensateRequest unwinds a failed fulfillment on request
func (h *FulfillmentEventHandlers) HandleCompensateRequest(ctx context.Context, event *events.Event) error {
	sagaID, err := h.sagaID(event)
	if err != nil {
		return err
	}

	cmd := &application.CompensateFulfillmentCommand{FulfillmentID: sagaID}
	if _, err := h.compensateFulfillment.Execute(ctx, cmd); err != nil {
		log.Printf("failed to compensate fulfillment %s: %v", sagaID, err)
		return err
	}

	return nil
}

// sagaID extracts the saga ID from the event payload, falling back to the
// aggregate ID the event was published under
func (h *FulfillmentEventHandlers) sagaID(event *events.Event) (string, error) {
	var payload struct {
		SagaID string `json:"saga_id"`
	}
	if err := event.UnmarshalPayload(&payload); err == nil && payload.SagaID != "" {
		return payload.SagaID, nil
	}

	if event.AggregateID != "" {
		return event.AggregateID.String(), nil
	}

	return "", errors.Errorf("event %s carries no saga ID", event.EventType)
}

func (h *FulfillmentEventHandlers) journalEvent(ctx context.Context, event *events.Event) {
	if h.journal == nil {
		return
	}
	if err := h.journal.Append(ctx, event); err != nil {
		log.Printf("failed to journal event %s: %v", event.EventType, err)
	}
}
