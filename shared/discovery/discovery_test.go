package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_RoundRobinOverHealthyEndpoints(t *testing.T) {
	registry := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, Endpoint{ID: "a", ServiceName: "payments", URL: "http://payments-a:8080", Health: Healthy}))
	require.NoError(t, registry.Register(ctx, Endpoint{ID: "b", ServiceName: "payments", URL: "http://payments-b:8080", Health: Healthy}))
	require.NoError(t, registry.Register(ctx, Endpoint{ID: "c", ServiceName: "payments", URL: "http://payments-c:8080", Health: Unhealthy}))

	resolver := NewResolver(registry, nil)

	var urls []string
	for i := 0; i < 4; i++ {
		endpoint, err := resolver.Resolve(ctx, "payments")
		require.NoError(t, err)
		urls = append(urls, endpoint.URL)
	}

	// unhealthy endpoint never selected, healthy ones alternate
	assert.Equal(t, []string{
		"http://payments-a:8080",
		"http://payments-b:8080",
		"http://payments-a:8080",
		"http://payments-b:8080",
	}, urls)
}

func TestResolver_NotFoundWhenNoHealthyEndpoint(t *testing.T) {
	registry := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, Endpoint{ID: "a", ServiceName: "inventory", URL: "http://inventory-a:8080", Health: Unhealthy}))

	resolver := NewResolver(registry, nil)

	_, err := resolver.Resolve(ctx, "inventory")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceNotFound)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "inventory", notFound.ServiceName)

	_, err = resolver.Resolve(ctx, "never-registered")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestResolver_CountersIndependentPerService(t *testing.T) {
	registry := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, Endpoint{ID: "a", ServiceName: "payments", URL: "http://payments-a:8080", Health: Healthy}))
	require.NoError(t, registry.Register(ctx, Endpoint{ID: "b", ServiceName: "payments", URL: "http://payments-b:8080", Health: Healthy}))
	require.NoError(t, registry.Register(ctx, Endpoint{ID: "a", ServiceName: "shipping", URL: "http://shipping-a:8080", Health: Healthy}))
	require.NoError(t, registry.Register(ctx, Endpoint{ID: "b", ServiceName: "shipping", URL: "http://shipping-b:8080", Health: Healthy}))

	resolver := NewResolver(registry, nil)

	first, err := resolver.Resolve(ctx, "payments")
	require.NoError(t, err)
	assert.Equal(t, "http://payments-a:8080", first.URL)

	// resolving shipping does not advance the payments counter
	_, err = resolver.Resolve(ctx, "shipping")
	require.NoError(t, err)

	second, err := resolver.Resolve(ctx, "payments")
	require.NoError(t, err)
	assert.Equal(t, "http://payments-b:8080", second.URL)
}

func TestMemoryRegistry_RegisterReplacesAndUnregisterRemoves(t *testing.T) {
	registry := NewMemoryRegistry()
	ctx := context.Background()

	require.NoError(t, registry.Register(ctx, Endpoint{ID: "a", ServiceName: "payments", URL: "http://old:8080", Health: Unknown}))
	require.NoError(t, registry.Register(ctx, Endpoint{ID: "a", ServiceName: "payments", URL: "http://new:8080", Health: Healthy}))

	endpoints, err := registry.List(ctx, "payments")
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "http://new:8080", endpoints[0].URL)
	assert.Equal(t, Healthy, endpoints[0].Health)

	require.NoError(t, registry.Unregister(ctx, "payments", "a"))
	require.NoError(t, registry.Unregister(ctx, "payments", "a"))

	endpoints, err = registry.List(ctx, "payments")
	require.NoError(t, err)
	assert.Empty(t, endpoints)
}
