package discovery

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "discovery:services:"

// RedisRegistry stores endpoints in a Redis hash per service name, so that
// multiple orchestrator instances share one endpoint catalog.
type RedisRegistry struct {
	client *redis.Client
}

var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry creates a registry backed by the given Redis client
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) Register(ctx context.Context, endpoint Endpoint) error {
	payload, err := json.Marshal(endpoint)
	if err != nil {
		return errors.Wrap(err, "marshaling endpoint")
	}

	if err := r.client.HSet(ctx, redisKeyPrefix+endpoint.ServiceName, endpoint.ID, payload).Err(); err != nil {
		return errors.Wrapf(err, "registering endpoint %s for service %s", endpoint.ID, endpoint.ServiceName)
	}
	return nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, serviceName, endpointID string) error {
	if err := r.client.HDel(ctx, redisKeyPrefix+serviceName, endpointID).Err(); err != nil {
		return errors.Wrapf(err, "unregistering endpoint %s for service %s", endpointID, serviceName)
	}
	return nil
}

func (r *RedisRegistry) List(ctx context.Context, serviceName string) ([]Endpoint, error) {
	entries, err := r.client.HGetAll(ctx, redisKeyPrefix+serviceName).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "listing endpoints for service %s", serviceName)
	}

	endpoints := make([]Endpoint, 0, len(entries))
	for id, payload := range entries {
		var endpoint Endpoint
		if err := json.Unmarshal([]byte(payload), &endpoint); err != nil {
			return nil, errors.Wrapf(err, "unmarshaling endpoint %s for service %s", id, serviceName)
		}
		endpoints = append(endpoints, endpoint)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].ID < endpoints[j].ID })
	return endpoints, nil
}
