package application

import (
	"context"

	"github.com/orderstack/fulfillment-system/shared/models"
	"github.com/orderstack/fulfillment-system/shared/saga"
	"github.com/pkg/errors"
)

// ErrRetryBudgetExhausted is returned when a failed fulfillment has already
// used all of its retries and should be compensated instead
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// RetryFulfillmentCommand represents the command to requeue a failed
// fulfillment
type RetryFulfillmentCommand struct {
	FulfillmentID string `json:"fulfillment_id"`
}

// RetryFulfillment use case requeues a Failed saga back to Pending so the
// failed step runs again, consuming one unit of the saga's retry budget.
// The in-step retry policy handles transient blips within a single advance;
// this handles the slower loop where an operator or the event driver decides
// a failed saga deserves another pass.
type RetryFulfillment struct {
	store saga.Store
}

// NewRetryFulfillment creates a new RetryFulfillment use case
func NewRetryFulfillment(store saga.Store) *RetryFulfillment {
	return &RetryFulfillment{store: store}
}

// Execute executes the retry fulfillment use case
func (uc *RetryFulfillment) Execute(ctx context.Context, cmd *RetryFulfillmentCommand) (*FulfillmentResponse, error) {
	id, err := models.NewID(cmd.FulfillmentID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid fulfillment ID")
	}

	state, err := uc.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if state.Status != saga.StatusFailed {
		return nil, errors.Errorf("fulfillment '%s' has status %s, only failed fulfillments can be retried", id, state.Status)
	}

	if state.RetryCount >= state.MaxRetries {
		return nil, errors.Wrapf(ErrRetryBudgetExhausted, "fulfillment '%s' already retried %d times", id, state.RetryCount)
	}

	state.MarkRequeued()

	if err := uc.store.Save(ctx, state); err != nil {
		return nil, errors.Wrap(err, "failed to requeue fulfillment")
	}

	return newFulfillmentResponse(state), nil
}
