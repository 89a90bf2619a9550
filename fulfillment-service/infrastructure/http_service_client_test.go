package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderstack/fulfillment-system/fulfillment-service/domain"
	"github.com/orderstack/fulfillment-system/shared/discovery"
)

func newTestClient(t *testing.T, serviceName string, handler http.Handler) *HTTPServiceClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	registry := discovery.NewMemoryRegistry()
	require.NoError(t, registry.Register(context.Background(), discovery.Endpoint{
		ID:          "test",
		ServiceName: serviceName,
		URL:         server.URL,
		Health:      discovery.Healthy,
	}))

	return NewHTTPServiceClient(discovery.NewResolver(registry, nil), nil)
}

func TestHTTPServiceClient_PostDecodesResponse(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	client := newTestClient(t, "inventory", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"reservation_id": "res-1"})
	}))

	var out struct {
		ReservationID string `json:"reservation_id"`
	}
	err := client.Post(context.Background(), "inventory", "/reservations", map[string]string{"order_id": "ord-1"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "/reservations", gotPath)
	assert.Equal(t, "ord-1", gotBody["order_id"])
	assert.Equal(t, "res-1", out.ReservationID)
}

func TestHTTPServiceClient_NonSuccessBecomesServiceCallError(t *testing.T) {
	client := newTestClient(t, "inventory", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error_code": "insufficient_stock",
			"message":    "only 1 left",
		})
	}))

	err := client.Post(context.Background(), "inventory", "/reservations", nil, nil)
	require.Error(t, err)

	var callErr *domain.ServiceCallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, http.StatusConflict, callErr.StatusCode)
	assert.Equal(t, "insufficient_stock", callErr.ErrorCode)
	assert.Equal(t, "only 1 left", callErr.Message)
	assert.False(t, callErr.Transient())
}

func TestHTTPServiceClient_ServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, "payments", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusServiceUnavailable)
	}))

	err := client.Post(context.Background(), "payments", "/charges", nil, nil)
	require.Error(t, err)

	var callErr *domain.ServiceCallError
	require.ErrorAs(t, err, &callErr)
	assert.True(t, callErr.Transient())
}

func TestHTTPServiceClient_UnresolvableService(t *testing.T) {
	client := NewHTTPServiceClient(discovery.NewResolver(discovery.NewMemoryRegistry(), nil), nil)

	err := client.Post(context.Background(), "inventory", "/reservations", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, discovery.ErrServiceNotFound)
}
