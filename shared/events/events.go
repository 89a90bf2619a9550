package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/orderstack/fulfillment-system/shared/models"
)

var (
	ErrInvalidTopic   = errors.New("invalid topic")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Topic is a dot-separated event type, e.g. "saga.step.completed"
type Topic string

func NewTopic(topic string) (Topic, error) {
	if topic == "" {
		return "", ErrInvalidTopic
	}
	return Topic(topic), nil
}

func (t Topic) String() string {
	return string(t)
}

// Matches reports whether the topic matches the given pattern. A "*" segment
// matches exactly one segment, a trailing "#" matches any remainder.
func (t Topic) Matches(pattern Topic) bool {
	patternParts := strings.Split(string(pattern), ".")
	topicParts := strings.Split(string(t), ".")

	for i, pp := range patternParts {
		if pp == "#" {
			return i == len(patternParts)-1
		}
		if i >= len(topicParts) {
			return false
		}
		if pp != "*" && pp != topicParts[i] {
			return false
		}
	}

	return len(patternParts) == len(topicParts)
}

// Metadata carries transport-level key/value pairs alongside an event
type Metadata map[string]string

func (m Metadata) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m Metadata) Set(key string, value string) {
	if m == nil {
		return
	}
	m[key] = value
}

// Event represents a domain event
type Event struct {
	ID            models.ID   `json:"id"`
	AggregateID   models.ID   `json:"aggregate_id"`
	Topic         Topic       `json:"topic"`
	EventType     string      `json:"event_type"`
	Version       string      `json:"version"`
	Data          interface{} `json:"data"`
	Metadata      Metadata    `json:"metadata"`
	Timestamp     time.Time   `json:"timestamp"`
	CorrelationID models.ID   `json:"correlation_id"`
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

// Subscriber subscribes to events
type Subscriber interface {
	Subscribe(ctx context.Context, eventType string, handler EventHandler) error
}

// EventHandler handles domain events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
}

// EventStore is an append-only journal of domain events, used for auditing
// saga execution after the fact
type EventStore interface {
	Append(ctx context.Context, events ...*Event) error
	GetByAggregate(ctx context.Context, aggregateID models.ID) ([]*Event, error)
	GetByType(ctx context.Context, eventType string, offset, limit int) ([]*Event, error)
}

// NewEvent creates a new domain event. The event type doubles as its topic.
func NewEvent(aggregateID models.ID, eventType string, data interface{}) *Event {
	return &Event{
		ID:          models.GenerateUUID(),
		AggregateID: aggregateID,
		Topic:       Topic(eventType),
		EventType:   eventType,
		Version:     "1.0",
		Data:        data,
		Metadata:    make(Metadata),
		Timestamp:   time.Now(),
	}
}

// WithCorrelationID sets correlation ID
func (e *Event) WithCorrelationID(correlationID models.ID) *Event {
	e.CorrelationID = correlationID
	return e
}

// MarshalPayload marshals the event payload
func (e *Event) MarshalPayload() (json.RawMessage, error) {
	switch d := e.Data.(type) {
	case []byte:
		return d, nil
	case json.RawMessage:
		return d, nil
	default:
		return json.Marshal(d)
	}
}

// UnmarshalPayload unmarshals the event payload into v. Payloads arrive as
// raw JSON off the wire but as arbitrary values when published in-process,
// so non-raw payloads are re-marshaled first.
func (e *Event) UnmarshalPayload(v interface{}) error {
	raw, err := e.MarshalPayload()
	if err != nil {
		return ErrInvalidPayload
	}
	return json.Unmarshal(raw, v)
}

// Event Types Constants
const (
	// Fulfillment Events
	FulfillmentRequestedEvent    = "fulfillment.requested"
	FulfillmentAdvanceRequested  = "fulfillment.advance.requested"
	FulfillmentRetryRequested    = "fulfillment.retry.requested"
	FulfillmentCompensateRequest = "fulfillment.compensate.requested"
	FulfillmentCompletedEvent    = "fulfillment.completed"
	FulfillmentFailedEvent       = "fulfillment.failed"

	// Saga Events
	SagaStartedEvent             = "saga.started"
	SagaStepCompletedEvent       = "saga.step.completed"
	SagaStepFailedEvent          = "saga.step.failed"
	SagaCompletedEvent           = "saga.completed"
	SagaCompensationStartedEvent = "saga.compensation.started"
	SagaCompensatedEvent         = "saga.compensated"
)
