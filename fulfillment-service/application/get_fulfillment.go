package application

import (
	"context"
	"time"

	"github.com/orderstack/fulfillment-system/shared/models"
	"github.com/orderstack/fulfillment-system/shared/saga"
	"github.com/pkg/errors"
)

// GetFulfillmentQuery represents the query to inspect a fulfillment
type GetFulfillmentQuery struct {
	FulfillmentID string `json:"fulfillment_id"`
}

// FulfillmentResponse is the read model returned by the fulfillment use cases
type FulfillmentResponse struct {
	FulfillmentID    string    `json:"fulfillment_id"`
	Definition       string    `json:"definition"`
	Status           string    `json:"status"`
	CurrentStepIndex int       `json:"current_step_index"`
	Data             saga.Data `json:"data"`
	Error            string    `json:"error,omitempty"`
	RetryCount       int       `json:"retry_count"`
	MaxRetries       int       `json:"max_retries"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func newFulfillmentResponse(state *saga.State) *FulfillmentResponse {
	return &FulfillmentResponse{
		FulfillmentID:    state.ID.String(),
		Definition:       state.Definition,
		Status:           string(state.Status),
		CurrentStepIndex: state.CurrentStepIndex,
		Data:             state.Data,
		Error:            state.Error,
		RetryCount:       state.RetryCount,
		MaxRetries:       state.MaxRetries,
		CreatedAt:        state.CreatedAt,
		UpdatedAt:        state.UpdatedAt,
	}
}

// GetFulfillment use case returns the current state of a fulfillment saga
type GetFulfillment struct {
	orchestrator *saga.Orchestrator
}

// NewGetFulfillment creates a new GetFulfillment use case
func NewGetFulfillment(orchestrator *saga.Orchestrator) *GetFulfillment {
	return &GetFulfillment{orchestrator: orchestrator}
}

// Execute executes the get fulfillment use case
func (uc *GetFulfillment) Execute(ctx context.Context, query *GetFulfillmentQuery) (*FulfillmentResponse, error) {
	id, err := models.NewID(query.FulfillmentID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid fulfillment ID")
	}

	state, err := uc.orchestrator.GetState(ctx, id)
	if err != nil {
		return nil, err
	}

	return newFulfillmentResponse(state), nil
}
