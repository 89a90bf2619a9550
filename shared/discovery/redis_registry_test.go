package discovery

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisRegistry(t *testing.T) *RedisRegistry {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRegistry(client)
}

func TestRedisRegistry_RegisterAndList(t *testing.T) {
	registry := newTestRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, Endpoint{
		ID:          "a",
		ServiceName: "payments",
		URL:         "http://payments-a:8080",
		Health:      Healthy,
		Metadata:    map[string]string{"zone": "us-east-1a"},
	}))
	require.NoError(t, registry.Register(ctx, Endpoint{
		ID:          "b",
		ServiceName: "payments",
		URL:         "http://payments-b:8080",
		Health:      Unhealthy,
	}))

	endpoints, err := registry.List(ctx, "payments")
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.Equal(t, "a", endpoints[0].ID)
	assert.Equal(t, "us-east-1a", endpoints[0].Metadata["zone"])
	assert.Equal(t, Unhealthy, endpoints[1].Health)

	// services are isolated from each other
	endpoints, err = registry.List(ctx, "inventory")
	require.NoError(t, err)
	assert.Empty(t, endpoints)
}

func TestRedisRegistry_Unregister(t *testing.T) {
	registry := newTestRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, Endpoint{ID: "a", ServiceName: "payments", URL: "http://payments-a:8080", Health: Healthy}))
	require.NoError(t, registry.Unregister(ctx, "payments", "a"))

	endpoints, err := registry.List(ctx, "payments")
	require.NoError(t, err)
	assert.Empty(t, endpoints)
}

func TestRedisRegistry_ResolvesThroughResolver(t *testing.T) {
	registry := newTestRedisRegistry(t)
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, Endpoint{ID: "a", ServiceName: "shipping", URL: "http://shipping-a:8080", Health: Healthy}))

	resolver := NewResolver(registry, nil)
	endpoint, err := resolver.Resolve(ctx, "shipping")
	require.NoError(t, err)
	assert.Equal(t, "http://shipping-a:8080", endpoint.URL)
}
