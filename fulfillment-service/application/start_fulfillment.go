package application

import (
	"context"

	"github.com/orderstack/fulfillment-system/fulfillment-service/domain"
	"github.com/orderstack/fulfillment-system/shared/models"
	"github.com/orderstack/fulfillment-system/shared/saga"
	"github.com/pkg/errors"
)

// StartFulfillmentCommand represents the command to start fulfilling an order
type StartFulfillmentCommand struct {
	OrderID         string `json:"order_id"`
	CustomerID      string `json:"customer_id"`
	SKU             string `json:"sku"`
	Quantity        int    `json:"quantity"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	ShippingAddress string `json:"shipping_address"`
}

// StartFulfillmentResponse represents the response after starting a fulfillment
type StartFulfillmentResponse struct {
	FulfillmentID string `json:"fulfillment_id"`
	Status        string `json:"status"`
}

// StartFulfillment use case creates a new fulfillment saga for an order
type StartFulfillment struct {
	orchestrator *saga.Orchestrator
}

// NewStartFulfillment creates a new StartFulfillment use case
func NewStartFulfillment(orchestrator *saga.Orchestrator) *StartFulfillment {
	return &StartFulfillment{orchestrator: orchestrator}
}

// Execute executes the start fulfillment use case
func (uc *StartFulfillment) Execute(ctx context.Context, cmd *StartFulfillmentCommand) (*StartFulfillmentResponse, error) {
	if err := uc.validateCommand(cmd); err != nil {
		return nil, errors.Wrap(err, "invalid command")
	}

	data := domain.NewFulfillmentData(
		cmd.OrderID,
		cmd.CustomerID,
		cmd.SKU,
		cmd.Quantity,
		models.NewMoney(cmd.AmountCents, cmd.Currency),
		cmd.ShippingAddress,
	)

	state, err := uc.orchestrator.Start(ctx, models.GenerateUUID(), data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start fulfillment")
	}

	return &StartFulfillmentResponse{
		FulfillmentID: state.ID.String(),
		Status:        string(state.Status),
	}, nil
}

// validateCommand validates the start fulfillment command
func (uc *StartFulfillment) validateCommand(cmd *StartFulfillmentCommand) error {
	if cmd.OrderID == "" {
		return errors.New("order ID is required")
	}

	if cmd.CustomerID == "" {
		return errors.New("customer ID is required")
	}

	if cmd.SKU == "" {
		return errors.New("sku is required")
	}

	if cmd.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}

	charge := models.NewMoney(cmd.AmountCents, cmd.Currency)
	if !charge.IsPositive() {
		return errors.New("amount must be positive")
	}

	if charge.Currency == "" {
		return errors.New("currency is required")
	}

	if cmd.ShippingAddress == "" {
		return errors.New("shipping address is required")
	}

	return nil
}
