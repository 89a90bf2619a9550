package domain

import (
	"context"

	"github.com/orderstack/fulfillment-system/shared/models"
	"github.com/orderstack/fulfillment-system/shared/saga"
	"github.com/pkg/errors"
)

// ReserveInventoryStep reserves the ordered items with the inventory service.
// The reservation ID it records is what the compensation releases.
type ReserveInventoryStep struct {
	client ServiceClient
}

// NewReserveInventoryStep creates a new ReserveInventoryStep
func NewReserveInventoryStep(client ServiceClient) *ReserveInventoryStep {
	return &ReserveInventoryStep{client: client}
}

type reserveInventoryRequest struct {
	OrderID  string `json:"order_id"`
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type reserveInventoryResponse struct {
	ReservationID string `json:"reservation_id"`
}

func (s *ReserveInventoryStep) Name() string {
	return InventoryService
}

func (s *ReserveInventoryStep) Execute(ctx context.Context, data saga.Data) error {
	req := &reserveInventoryRequest{
		OrderID:  data.GetString(DataKeyOrderID),
		SKU:      data.GetString(DataKeySKU),
		Quantity: quantity(data),
	}

	var resp reserveInventoryResponse
	if err := s.client.Post(ctx, InventoryService, "/reservations", req, &resp); err != nil {
		var callErr *ServiceCallError
		if errors.As(err, &callErr) && callErr.ErrorCode == ErrorCodeInsufficientStock {
			return &InsufficientStockError{SKU: req.SKU, Requested: req.Quantity}
		}
		return errors.Wrap(err, "failed to reserve inventory")
	}

	data.Set(DataKeyReservationID, resp.ReservationID)
	return nil
}

func (s *ReserveInventoryStep) Compensate(ctx context.Context, data saga.Data) error {
	reservationID := data.GetString(DataKeyReservationID)
	path := "/reservations/" + reservationID + "/release"

	if err := s.client.Post(ctx, InventoryService, path, nil, nil); err != nil {
		return errors.Wrapf(err, "failed to release reservation %s", reservationID)
	}
	return nil
}

func (s *ReserveInventoryStep) CanExecute(data saga.Data) bool {
	return data.GetString(DataKeyOrderID) != "" && data.GetString(DataKeySKU) != ""
}

func (s *ReserveInventoryStep) CanCompensate(data saga.Data) bool {
	return data.GetString(DataKeyReservationID) != ""
}

// ChargePaymentStep charges the customer for the order
type ChargePaymentStep struct {
	client ServiceClient
}

// NewChargePaymentStep creates a new ChargePaymentStep
func NewChargePaymentStep(client ServiceClient) *ChargePaymentStep {
	return &ChargePaymentStep{client: client}
}

type chargePaymentRequest struct {
	OrderID    string       `json:"order_id"`
	CustomerID string       `json:"customer_id"`
	Amount     models.Money `json:"amount"`
}

type chargePaymentResponse struct {
	ChargeID string `json:"charge_id"`
}

func (s *ChargePaymentStep) Name() string {
	return PaymentsService
}

func (s *ChargePaymentStep) Execute(ctx context.Context, data saga.Data) error {
	req := &chargePaymentRequest{
		OrderID:    data.GetString(DataKeyOrderID),
		CustomerID: data.GetString(DataKeyCustomerID),
		Amount:     models.NewMoney(amountCents(data), data.GetString(DataKeyCurrency)),
	}

	var resp chargePaymentResponse
	if err := s.client.Post(ctx, PaymentsService, "/charges", req, &resp); err != nil {
		var callErr *ServiceCallError
		if errors.As(err, &callErr) && callErr.ErrorCode == ErrorCodePaymentDeclined {
			return &PaymentDeclinedError{OrderID: req.OrderID, Reason: callErr.Message}
		}
		return errors.Wrap(err, "failed to charge payment")
	}

	data.Set(DataKeyChargeID, resp.ChargeID)
	return nil
}

func (s *ChargePaymentStep) Compensate(ctx context.Context, data saga.Data) error {
	chargeID := data.GetString(DataKeyChargeID)
	path := "/charges/" + chargeID + "/refund"

	if err := s.client.Post(ctx, PaymentsService, path, nil, nil); err != nil {
		return errors.Wrapf(err, "failed to refund charge %s", chargeID)
	}
	return nil
}

func (s *ChargePaymentStep) CanExecute(data saga.Data) bool {
	return amountCents(data) > 0
}

func (s *ChargePaymentStep) CanCompensate(data saga.Data) bool {
	return data.GetString(DataKeyChargeID) != ""
}

// ArrangeShipmentStep books the shipment for the reserved items
type ArrangeShipmentStep struct {
	client ServiceClient
}

// NewArrangeShipmentStep creates a new ArrangeShipmentStep
func NewArrangeShipmentStep(client ServiceClient) *ArrangeShipmentStep {
	return &ArrangeShipmentStep{client: client}
}

type arrangeShipmentRequest struct {
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
	Address       string `json:"address"`
}

type arrangeShipmentResponse struct {
	ShipmentID     string `json:"shipment_id"`
	TrackingNumber string `json:"tracking_number"`
}

func (s *ArrangeShipmentStep) Name() string {
	return ShippingService
}

func (s *ArrangeShipmentStep) Execute(ctx context.Context, data saga.Data) error {
	req := &arrangeShipmentRequest{
		OrderID:       data.GetString(DataKeyOrderID),
		ReservationID: data.GetString(DataKeyReservationID),
		Address:       data.GetString(DataKeyShippingAddress),
	}

	var resp arrangeShipmentResponse
	if err := s.client.Post(ctx, ShippingService, "/shipments", req, &resp); err != nil {
		return errors.Wrap(err, "failed to arrange shipment")
	}

	data.Set(DataKeyShipmentID, resp.ShipmentID)
	data.Set(DataKeyTrackingNumber, resp.TrackingNumber)
	return nil
}

func (s *ArrangeShipmentStep) Compensate(ctx context.Context, data saga.Data) error {
	shipmentID := data.GetString(DataKeyShipmentID)
	path := "/shipments/" + shipmentID + "/cancel"

	if err := s.client.Post(ctx, ShippingService, path, nil, nil); err != nil {
		return errors.Wrapf(err, "failed to cancel shipment %s", shipmentID)
	}
	return nil
}

func (s *ArrangeShipmentStep) CanExecute(data saga.Data) bool {
	return data.GetString(DataKeyShippingAddress) != ""
}

func (s *ArrangeShipmentStep) CanCompensate(data saga.Data) bool {
	return data.GetString(DataKeyShipmentID) != ""
}
