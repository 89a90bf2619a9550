package application

import (
	"context"
	"time"

	"github.com/orderstack/fulfillment-system/shared/events"
	"github.com/orderstack/fulfillment-system/shared/models"
	"github.com/pkg/errors"
)

// ListFulfillmentEventsQuery represents the query for a fulfillment's audit
// trail
type ListFulfillmentEventsQuery struct {
	FulfillmentID string `json:"fulfillment_id"`
}

// FulfillmentEventRecord is one journaled lifecycle event
type FulfillmentEventRecord struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ListFulfillmentEventsResponse represents the audit trail of a fulfillment
type ListFulfillmentEventsResponse struct {
	FulfillmentID string                   `json:"fulfillment_id"`
	Events        []FulfillmentEventRecord `json:"events"`
}

// ListFulfillmentEvents use case returns the journaled lifecycle events of a
// fulfillment, oldest first
type ListFulfillmentEvents struct {
	eventStore events.EventStore
}

// NewListFulfillmentEvents creates a new ListFulfillmentEvents use case
func NewListFulfillmentEvents(eventStore events.EventStore) *ListFulfillmentEvents {
	return &ListFulfillmentEvents{eventStore: eventStore}
}

// Execute executes the list fulfillment events use case
func (uc *ListFulfillmentEvents) Execute(ctx context.Context, query *ListFulfillmentEventsQuery) (*ListFulfillmentEventsResponse, error) {
	id, err := models.NewID(query.FulfillmentID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid fulfillment ID")
	}

	journaled, err := uc.eventStore.GetByAggregate(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load fulfillment events")
	}

	records := make([]FulfillmentEventRecord, len(journaled))
	for i, event := range journaled {
		records[i] = FulfillmentEventRecord{
			EventID:   event.ID.String(),
			EventType: event.EventType,
			Data:      event.Data,
			Timestamp: event.Timestamp,
		}
	}

	return &ListFulfillmentEventsResponse{
		FulfillmentID: query.FulfillmentID,
		Events:        records,
	}, nil
}
