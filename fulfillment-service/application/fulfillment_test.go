package application

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderstack/fulfillment-system/fulfillment-service/domain"
	"github.com/orderstack/fulfillment-system/shared/events"
	"github.com/orderstack/fulfillment-system/shared/models"
	"github.com/orderstack/fulfillment-system/shared/saga"
)

// stubServiceClient answers canned JSON per path and can be told to fail a
// path with a given error.
type stubServiceClient struct {
	responses map[string]string
	failures  map[string]error
	calls     []string
}

func newStubServiceClient() *stubServiceClient {
	return &stubServiceClient{
		responses: map[string]string{
			"/reservations": `{"reservation_id":"res-1"}`,
			"/charges":      `{"charge_id":"ch-1"}`,
			"/shipments":    `{"shipment_id":"shp-1","tracking_number":"TRK1"}`,
		},
		failures: make(map[string]error),
	}
}

func (c *stubServiceClient) Post(ctx context.Context, serviceName, path string, body, out interface{}) error {
	c.calls = append(c.calls, path)
	if err, ok := c.failures[path]; ok {
		return err
	}
	if resp, ok := c.responses[path]; ok && out != nil {
		return json.Unmarshal([]byte(resp), out)
	}
	return nil
}

// fakePublisher records published events
type fakePublisher struct {
	published []*events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	p.published = append(p.published, evts...)
	return nil
}

func (p *fakePublisher) lastEventType() string {
	if len(p.published) == 0 {
		return ""
	}
	return p.published[len(p.published)-1].EventType
}

type testHarness struct {
	client     *stubServiceClient
	store      *saga.MemoryStore
	publisher  *fakePublisher
	start      *StartFulfillment
	advance    *AdvanceFulfillment
	compensate *CompensateFulfillment
	retry      *RetryFulfillment
	get        *GetFulfillment
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	client := newStubServiceClient()
	definition, err := domain.NewFulfillmentDefinition(client)
	require.NoError(t, err)

	store := saga.NewMemoryStore()
	publisher := &fakePublisher{}
	orchestrator := saga.NewOrchestrator(definition, store, saga.DirectInvoker{}, saga.WithMaxRetries(2))

	return &testHarness{
		client:     client,
		store:      store,
		publisher:  publisher,
		start:      NewStartFulfillment(orchestrator),
		advance:    NewAdvanceFulfillment(orchestrator, WithNotificationPublisher(publisher)),
		compensate: NewCompensateFulfillment(orchestrator),
		retry:      NewRetryFulfillment(store),
		get:        NewGetFulfillment(orchestrator),
	}
}

func validStartCommand() *StartFulfillmentCommand {
	return &StartFulfillmentCommand{
		OrderID:         "ord-1",
		CustomerID:      "cust-1",
		SKU:             "sku-42",
		Quantity:        2,
		AmountCents:     1999,
		Currency:        "USD",
		ShippingAddress: "221B Baker St",
	}
}

func (h *testHarness) advanceToEnd(t *testing.T, id string) *FulfillmentResponse {
	t.Helper()
	for i := 0; i < 10; i++ {
		resp, err := h.advance.Execute(context.Background(), &AdvanceFulfillmentCommand{FulfillmentID: id})
		require.NoError(t, err)
		if resp.Status != string(saga.StatusPending) && resp.Status != string(saga.StatusRunning) {
			return resp
		}
	}
	t.Fatal("fulfillment did not reach a terminal status")
	return nil
}

func TestFulfillment_HappyPath(t *testing.T) {
	h := newTestHarness(t)

	started, err := h.start.Execute(context.Background(), validStartCommand())
	require.NoError(t, err)
	assert.Equal(t, string(saga.StatusPending), started.Status)

	final := h.advanceToEnd(t, started.FulfillmentID)
	assert.Equal(t, string(saga.StatusCompleted), final.Status)
	assert.Equal(t, 3, final.CurrentStepIndex)
	assert.Equal(t, "res-1", final.Data.GetString(domain.DataKeyReservationID))
	assert.Equal(t, "ch-1", final.Data.GetString(domain.DataKeyChargeID))
	assert.Equal(t, "TRK1", final.Data.GetString(domain.DataKeyTrackingNumber))

	assert.Equal(t, []string{"/reservations", "/charges", "/shipments"}, h.client.calls)
	assert.Equal(t, events.FulfillmentCompletedEvent, h.publisher.lastEventType())
	assert.Equal(t, started.FulfillmentID, h.publisher.published[0].AggregateID.String())
}

func TestFulfillment_StartValidation(t *testing.T) {
	h := newTestHarness(t)

	tests := []struct {
		name   string
		mutate func(cmd *StartFulfillmentCommand)
	}{
		{name: "missing order ID", mutate: func(cmd *StartFulfillmentCommand) { cmd.OrderID = "" }},
		{name: "missing customer ID", mutate: func(cmd *StartFulfillmentCommand) { cmd.CustomerID = "" }},
		{name: "missing sku", mutate: func(cmd *StartFulfillmentCommand) { cmd.SKU = "" }},
		{name: "zero quantity", mutate: func(cmd *StartFulfillmentCommand) { cmd.Quantity = 0 }},
		{name: "zero amount", mutate: func(cmd *StartFulfillmentCommand) { cmd.AmountCents = 0 }},
		{name: "negative amount", mutate: func(cmd *StartFulfillmentCommand) { cmd.AmountCents = -1999 }},
		{name: "missing currency", mutate: func(cmd *StartFulfillmentCommand) { cmd.Currency = "" }},
		{name: "missing address", mutate: func(cmd *StartFulfillmentCommand) { cmd.ShippingAddress = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := validStartCommand()
			tt.mutate(cmd)
			_, err := h.start.Execute(context.Background(), cmd)
			assert.Error(t, err)
		})
	}
}

func TestFulfillment_FailedChargeLeavesSagaFailedThenCompensates(t *testing.T) {
	h := newTestHarness(t)
	h.client.failures["/charges"] = &domain.ServiceCallError{
		Service:    domain.PaymentsService,
		Path:       "/charges",
		StatusCode: 402,
		ErrorCode:  domain.ErrorCodePaymentDeclined,
		Message:    "card expired",
	}

	started, err := h.start.Execute(context.Background(), validStartCommand())
	require.NoError(t, err)

	final := h.advanceToEnd(t, started.FulfillmentID)
	assert.Equal(t, string(saga.StatusFailed), final.Status)
	assert.Equal(t, 1, final.CurrentStepIndex)
	assert.Contains(t, final.Error, "payment declined")
	assert.Equal(t, events.FulfillmentFailedEvent, h.publisher.lastEventType())

	compensated, err := h.compensate.Execute(context.Background(), &CompensateFulfillmentCommand{
		FulfillmentID: started.FulfillmentID,
	})
	require.NoError(t, err)
	assert.Equal(t, string(saga.StatusCompensated), compensated.Status)

	// the reservation made by the completed step was released
	assert.Contains(t, h.client.calls, "/reservations/res-1/release")
	assert.NotContains(t, h.client.calls, "/shipments")
}

func TestFulfillment_RetryRequeuesFailedSaga(t *testing.T) {
	h := newTestHarness(t)
	h.client.failures["/charges"] = &domain.ServiceCallError{
		Service:    domain.PaymentsService,
		Path:       "/charges",
		StatusCode: 503,
		Message:    "payments down",
	}

	started, err := h.start.Execute(context.Background(), validStartCommand())
	require.NoError(t, err)

	final := h.advanceToEnd(t, started.FulfillmentID)
	require.Equal(t, string(saga.StatusFailed), final.Status)

	// first retry goes through and re-runs the failed step after recovery
	retried, err := h.retry.Execute(context.Background(), &RetryFulfillmentCommand{
		FulfillmentID: started.FulfillmentID,
	})
	require.NoError(t, err)
	assert.Equal(t, string(saga.StatusPending), retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Empty(t, retried.Error)

	delete(h.client.failures, "/charges")
	final = h.advanceToEnd(t, started.FulfillmentID)
	assert.Equal(t, string(saga.StatusCompleted), final.Status)
}

func TestFulfillment_RetryRefreshesUpdatedAt(t *testing.T) {
	h := newTestHarness(t)
	h.client.failures["/charges"] = &domain.ServiceCallError{
		Service:    domain.PaymentsService,
		Path:       "/charges",
		StatusCode: 503,
		Message:    "payments down",
	}

	started, err := h.start.Execute(context.Background(), validStartCommand())
	require.NoError(t, err)
	final := h.advanceToEnd(t, started.FulfillmentID)
	require.Equal(t, string(saga.StatusFailed), final.Status)

	id, err := models.NewID(started.FulfillmentID)
	require.NoError(t, err)
	failed, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	failedAt := failed.UpdatedAt

	time.Sleep(time.Millisecond) // clock granularity

	_, err = h.retry.Execute(context.Background(), &RetryFulfillmentCommand{
		FulfillmentID: started.FulfillmentID,
	})
	require.NoError(t, err)

	// sweeps over ListByStatus order by updated_at, so the requeue must
	// look like a fresh mutation rather than keeping the failure timestamp
	requeued, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusPending, requeued.Status)
	assert.True(t, requeued.UpdatedAt.After(failedAt))
}

func TestFulfillment_RetryBudgetExhausted(t *testing.T) {
	h := newTestHarness(t)
	h.client.failures["/reservations"] = &domain.ServiceCallError{
		Service:    domain.InventoryService,
		Path:       "/reservations",
		StatusCode: 503,
	}

	started, err := h.start.Execute(context.Background(), validStartCommand())
	require.NoError(t, err)

	retryCmd := &RetryFulfillmentCommand{FulfillmentID: started.FulfillmentID}
	for i := 0; i < 2; i++ {
		final := h.advanceToEnd(t, started.FulfillmentID)
		require.Equal(t, string(saga.StatusFailed), final.Status)
		_, err = h.retry.Execute(context.Background(), retryCmd)
		require.NoError(t, err)
	}

	final := h.advanceToEnd(t, started.FulfillmentID)
	require.Equal(t, string(saga.StatusFailed), final.Status)

	_, err = h.retry.Execute(context.Background(), retryCmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
}

func TestFulfillment_RetryRequiresFailedStatus(t *testing.T) {
	h := newTestHarness(t)

	started, err := h.start.Execute(context.Background(), validStartCommand())
	require.NoError(t, err)

	_, err = h.retry.Execute(context.Background(), &RetryFulfillmentCommand{
		FulfillmentID: started.FulfillmentID,
	})
	assert.Error(t, err)
}

func TestFulfillment_GetUnknownID(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.get.Execute(context.Background(), &GetFulfillmentQuery{
		FulfillmentID: models.GenerateUUID().String(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, saga.ErrNotFound)

	_, err = h.get.Execute(context.Background(), &GetFulfillmentQuery{FulfillmentID: "not-a-uuid"})
	assert.Error(t, err)
}

// fakeEventStore journals events in memory
type fakeEventStore struct {
	byAggregate map[models.ID][]*events.Event
}

func (s *fakeEventStore) Append(ctx context.Context, evts ...*events.Event) error {
	for _, event := range evts {
		s.byAggregate[event.AggregateID] = append(s.byAggregate[event.AggregateID], event)
	}
	return nil
}

func (s *fakeEventStore) GetByAggregate(ctx context.Context, aggregateID models.ID) ([]*events.Event, error) {
	return s.byAggregate[aggregateID], nil
}

func (s *fakeEventStore) GetByType(ctx context.Context, eventType string, offset, limit int) ([]*events.Event, error) {
	return nil, nil
}

func TestListFulfillmentEvents(t *testing.T) {
	store := &fakeEventStore{byAggregate: make(map[models.ID][]*events.Event)}
	id := models.GenerateUUID()
	require.NoError(t, store.Append(context.Background(),
		events.NewEvent(id, events.SagaStartedEvent, map[string]string{"saga_id": id.String()}),
		events.NewEvent(id, events.SagaStepCompletedEvent, map[string]string{"saga_id": id.String()}),
	))

	uc := NewListFulfillmentEvents(store)
	resp, err := uc.Execute(context.Background(), &ListFulfillmentEventsQuery{FulfillmentID: id.String()})
	require.NoError(t, err)

	require.Len(t, resp.Events, 2)
	assert.Equal(t, events.SagaStartedEvent, resp.Events[0].EventType)
	assert.Equal(t, events.SagaStepCompletedEvent, resp.Events[1].EventType)
}
