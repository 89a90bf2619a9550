package application

import (
	"context"

	"github.com/orderstack/fulfillment-system/shared/models"
	"github.com/orderstack/fulfillment-system/shared/saga"
	"github.com/pkg/errors"
)

// CompensateFulfillmentCommand represents the command to unwind a failed
// fulfillment
type CompensateFulfillmentCommand struct {
	FulfillmentID string `json:"fulfillment_id"`
}

// CompensateFulfillment use case triggers compensation of a failed
// fulfillment saga
type CompensateFulfillment struct {
	orchestrator *saga.Orchestrator
}

// NewCompensateFulfillment creates a new CompensateFulfillment use case
func NewCompensateFulfillment(orchestrator *saga.Orchestrator) *CompensateFulfillment {
	return &CompensateFulfillment{orchestrator: orchestrator}
}

// Execute executes the compensate fulfillment use case
func (uc *CompensateFulfillment) Execute(ctx context.Context, cmd *CompensateFulfillmentCommand) (*FulfillmentResponse, error) {
	id, err := models.NewID(cmd.FulfillmentID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid fulfillment ID")
	}

	state, err := uc.orchestrator.Compensate(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compensate fulfillment")
	}

	return newFulfillmentResponse(state), nil
}
