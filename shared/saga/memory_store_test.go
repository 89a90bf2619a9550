package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderstack/fulfillment-system/shared/models"
)

func TestMemoryStore_SaveAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id := models.GenerateUUID()
	state := NewState(id, "fulfillment", Data{"order_id": "ord-1"})

	require.NoError(t, store.Save(ctx, state))
	assert.Equal(t, 1, state.Version)

	loaded, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, loaded.ID)
	assert.Equal(t, StatusPending, loaded.Status)
	assert.Equal(t, "ord-1", loaded.Data.GetString("order_id"))
}

func TestMemoryStore_GetUnknownID(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), models.GenerateUUID())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_StaleSaveReturnsOptimisticLockError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id := models.GenerateUUID()
	state := NewState(id, "fulfillment", Data{})
	require.NoError(t, store.Save(ctx, state))

	// two readers load the same version
	first, err := store.Get(ctx, id)
	require.NoError(t, err)
	second, err := store.Get(ctx, id)
	require.NoError(t, err)

	first.MarkRunning()
	require.NoError(t, store.Save(ctx, first))

	second.MarkRunning()
	err = store.Save(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionMismatch)

	var lockErr *OptimisticLockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, id, lockErr.SagaID)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id := models.GenerateUUID()
	require.NoError(t, store.Save(ctx, NewState(id, "fulfillment", Data{"order_id": "ord-1"})))

	loaded, err := store.Get(ctx, id)
	require.NoError(t, err)
	loaded.Data.Set("order_id", "mutated")
	loaded.Status = StatusFailed

	fresh, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", fresh.Data.GetString("order_id"))
	assert.Equal(t, StatusPending, fresh.Status)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id := models.GenerateUUID()
	require.NoError(t, store.Save(ctx, NewState(id, "fulfillment", Data{})))
	require.NoError(t, store.Delete(ctx, id))

	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListByStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	pending := NewState(models.GenerateUUID(), "fulfillment", Data{})
	require.NoError(t, store.Save(ctx, pending))

	failed := NewState(models.GenerateUUID(), "fulfillment", Data{})
	failed.MarkFailed(assert.AnError)
	require.NoError(t, store.Save(ctx, failed))

	failures, err := store.ListByStatus(ctx, StatusFailed)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, failed.ID, failures[0].ID)

	completed, err := store.ListByStatus(ctx, StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, completed)
}
