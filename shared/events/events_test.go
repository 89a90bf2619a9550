package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderstack/fulfillment-system/shared/models"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		topic   string
		pattern string
		want    bool
	}{
		{"saga.step.completed", "saga.step.completed", true},
		{"saga.step.completed", "saga.#", true},
		{"saga.step.completed", "saga.*.completed", true},
		{"saga.step.completed", "saga.*.failed", false},
		{"saga.step.completed", "fulfillment.#", false},
		{"saga.step.completed", "saga.step", false},
		{"saga.step", "saga.step.completed", false},
		{"fulfillment.requested", "#", true},
	}

	for _, tt := range tests {
		t.Run(tt.topic+" vs "+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, Topic(tt.topic).Matches(Topic(tt.pattern)))
		})
	}
}

func TestNewTopicRejectsEmpty(t *testing.T) {
	_, err := NewTopic("")
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestNewEvent(t *testing.T) {
	aggregateID := models.GenerateUUID()
	event := NewEvent(aggregateID, SagaStartedEvent, map[string]string{"saga_id": aggregateID.String()})

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, aggregateID, event.AggregateID)
	assert.Equal(t, SagaStartedEvent, event.EventType)
	assert.Equal(t, Topic(SagaStartedEvent), event.Topic)
	assert.NotZero(t, event.Timestamp)
}

func TestUnmarshalPayloadFromValue(t *testing.T) {
	event := NewEvent(models.GenerateUUID(), FulfillmentRequestedEvent, map[string]interface{}{
		"order_id": "ord-1",
		"quantity": 3,
	})

	var payload struct {
		OrderID  string `json:"order_id"`
		Quantity int    `json:"quantity"`
	}
	require.NoError(t, event.UnmarshalPayload(&payload))
	assert.Equal(t, "ord-1", payload.OrderID)
	assert.Equal(t, 3, payload.Quantity)
}

func TestUnmarshalPayloadFromWire(t *testing.T) {
	// Events decoded off the wire carry their payload as generic JSON values
	body, err := json.Marshal(NewEvent(models.GenerateUUID(), FulfillmentRequestedEvent, map[string]interface{}{
		"order_id": "ord-2",
	}))
	require.NoError(t, err)

	var decoded *Event
	require.NoError(t, json.Unmarshal(body, &decoded))

	var payload struct {
		OrderID string `json:"order_id"`
	}
	require.NoError(t, decoded.UnmarshalPayload(&payload))
	assert.Equal(t, "ord-2", payload.OrderID)
}
