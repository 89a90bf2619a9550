package application

import (
	"context"
	"log"

	"github.com/orderstack/fulfillment-system/fulfillment-service/domain"
	"github.com/orderstack/fulfillment-system/shared/events"
	"github.com/orderstack/fulfillment-system/shared/models"
	"github.com/orderstack/fulfillment-system/shared/saga"
	"github.com/pkg/errors"
)

// AdvanceFulfillmentCommand represents the command to execute the next
// fulfillment step
type AdvanceFulfillmentCommand struct {
	FulfillmentID string `json:"fulfillment_id"`
}

// AdvanceFulfillment use case drives one step of a fulfillment saga. Step
// failures are reported in the response, not as use-case errors: the saga is
// left Failed for the retry/compensation policy to act on, and the message
// that triggered the advance must not be redelivered just to observe the
// failure again.
type AdvanceFulfillment struct {
	orchestrator *saga.Orchestrator
	publisher    events.Publisher
}

// AdvanceOption configures the AdvanceFulfillment use case
type AdvanceOption func(*AdvanceFulfillment)

// WithNotificationPublisher attaches a publisher for the terminal
// fulfillment.completed and fulfillment.failed notifications
func WithNotificationPublisher(publisher events.Publisher) AdvanceOption {
	return func(uc *AdvanceFulfillment) {
		uc.publisher = publisher
	}
}

// NewAdvanceFulfillment creates a new AdvanceFulfillment use case
func NewAdvanceFulfillment(orchestrator *saga.Orchestrator, opts ...AdvanceOption) *AdvanceFulfillment {
	uc := &AdvanceFulfillment{orchestrator: orchestrator}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Execute executes the advance fulfillment use case
func (uc *AdvanceFulfillment) Execute(ctx context.Context, cmd *AdvanceFulfillmentCommand) (*FulfillmentResponse, error) {
	id, err := models.NewID(cmd.FulfillmentID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid fulfillment ID")
	}

	state, err := uc.orchestrator.Advance(ctx, id)
	if err != nil && !errors.Is(err, saga.ErrStepFailed) {
		return nil, errors.Wrap(err, "failed to advance fulfillment")
	}

	uc.notifyTerminal(ctx, state)
	return newFulfillmentResponse(state), nil
}

type fulfillmentNotification struct {
	FulfillmentID string `json:"fulfillment_id"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// notifyTerminal announces the fulfillment outcome to the outside world once
// the saga lands in Completed or Failed. The saga lifecycle events carry the
// internal step detail; this is the public order-level vocabulary.
func (uc *AdvanceFulfillment) notifyTerminal(ctx context.Context, state *saga.State) {
	if uc.publisher == nil || state == nil {
		return
	}

	var eventType string
	switch state.Status {
	case saga.StatusCompleted:
		eventType = events.FulfillmentCompletedEvent
	case saga.StatusFailed:
		eventType = events.FulfillmentFailedEvent
	default:
		return
	}

	event := events.NewEvent(state.ID, eventType, fulfillmentNotification{
		FulfillmentID: state.ID.String(),
		OrderID:       state.Data.GetString(domain.DataKeyOrderID),
		Status:        string(state.Status),
		Error:         state.Error,
	}).WithCorrelationID(state.ID)

	if err := uc.publisher.Publish(ctx, event); err != nil {
		log.Printf("fulfillment %s: failed to publish %s event: %v", state.ID, eventType, err)
	}
}
