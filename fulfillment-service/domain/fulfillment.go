package domain

import (
	"context"
	"fmt"

	"github.com/orderstack/fulfillment-system/shared/models"
	"github.com/orderstack/fulfillment-system/shared/saga"
)

// Saga data keys. The initial keys are written once at start; the *_id keys
// are written by steps as they complete and consumed by their compensations.
const (
	DataKeyOrderID         = "order_id"
	DataKeyCustomerID      = "customer_id"
	DataKeySKU             = "sku"
	DataKeyQuantity        = "quantity"
	DataKeyAmountCents     = "amount_cents"
	DataKeyCurrency        = "currency"
	DataKeyShippingAddress = "shipping_address"
	DataKeyReservationID   = "reservation_id"
	DataKeyChargeID        = "charge_id"
	DataKeyShipmentID      = "shipment_id"
	DataKeyTrackingNumber  = "tracking_number"
)

// Service names the fulfillment steps call. Each name also keys the shared
// circuit breaker guarding that collaborator.
const (
	InventoryService = "inventory"
	PaymentsService  = "payments"
	ShippingService  = "shipping"
)

// ServiceClient posts a JSON request to a named downstream service and
// decodes the JSON response into out. Implementations resolve the service
// name to a concrete endpoint at call time.
type ServiceClient interface {
	Post(ctx context.Context, serviceName, path string, body, out interface{}) error
}

// ServiceCallError is returned by ServiceClient implementations when the
// downstream responded with a non-2xx status
type ServiceCallError struct {
	Service    string `json:"service"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *ServiceCallError) Error() string {
	return fmt.Sprintf("%s %s returned %d (%s): %s", e.Service, e.Path, e.StatusCode, e.ErrorCode, e.Message)
}

// Transient reports whether the call is worth retrying. Server-side failures
// are; rejections of the request itself are not.
func (e *ServiceCallError) Transient() bool {
	return e.StatusCode >= 500
}

// Error codes downstream services use for business rejections
const (
	ErrorCodeInsufficientStock = "insufficient_stock"
	ErrorCodePaymentDeclined   = "payment_declined"
)

// InsufficientStockError is a terminal business failure from the inventory
// service: the order cannot be fulfilled as requested and retrying will not
// change that.
type InsufficientStockError struct {
	SKU       string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %s (requested %d)", e.SKU, e.Requested)
}

// PaymentDeclinedError is a terminal business failure from the payments
// service
type PaymentDeclinedError struct {
	OrderID string
	Reason  string
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("payment declined for order %s: %s", e.OrderID, e.Reason)
}

// NewFulfillmentData builds the initial saga data for an order
func NewFulfillmentData(orderID, customerID, sku string, quantity int, amount models.Money, shippingAddress string) saga.Data {
	return saga.Data{
		DataKeyOrderID:         orderID,
		DataKeyCustomerID:      customerID,
		DataKeySKU:             sku,
		DataKeyQuantity:        quantity,
		DataKeyAmountCents:     amount.Amount,
		DataKeyCurrency:        amount.Currency,
		DataKeyShippingAddress: shippingAddress,
	}
}

// NewFulfillmentDefinition builds the three-step fulfillment saga:
// reserve inventory, charge payment, arrange shipment
func NewFulfillmentDefinition(client ServiceClient) (*saga.Definition, error) {
	return saga.NewDefinition("fulfillment",
		NewReserveInventoryStep(client),
		NewChargePaymentStep(client),
		NewArrangeShipmentStep(client),
	)
}

// quantity reads the quantity key, tolerating the float64 that JSON
// round-tripping through the store produces
func quantity(data saga.Data) int {
	switch v := data[DataKeyQuantity].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// amountCents reads the amount key, with the same JSON tolerance as quantity
func amountCents(data saga.Data) int64 {
	switch v := data[DataKeyAmountCents].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
