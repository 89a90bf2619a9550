package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrServiceNotFound is the sentinel for errors.Is() checks when no healthy
// endpoint exists for a service name
var ErrServiceNotFound = errors.New("service not found")

// NotFoundError is returned when resolution finds no healthy endpoint
type NotFoundError struct {
	ServiceName string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no healthy endpoint for service %s", e.ServiceName)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrServiceNotFound
}

// Health represents the reported health of an endpoint
type Health string

const (
	Healthy   Health = "healthy"
	Unhealthy Health = "unhealthy"
	Unknown   Health = "unknown"
)

// Endpoint represents a single registered instance of a service
type Endpoint struct {
	ID          string            `json:"id"`
	ServiceName string            `json:"service_name"`
	URL         string            `json:"url"`
	Health      Health            `json:"health"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Registry is the contract for an endpoint catalog. Implementations must be
// safe for concurrent use.
type Registry interface {
	// Register adds or replaces an endpoint, keyed by (ServiceName, ID).
	Register(ctx context.Context, endpoint Endpoint) error

	// Unregister removes an endpoint. Removing an unknown endpoint is a no-op.
	Unregister(ctx context.Context, serviceName, endpointID string) error

	// List returns all endpoints registered under serviceName, healthy or not.
	List(ctx context.Context, serviceName string) ([]Endpoint, error)
}

// Strategy selects one endpoint from a non-empty healthy set
type Strategy interface {
	Select(serviceName string, endpoints []Endpoint) Endpoint
}

// RoundRobin cycles through a service's endpoints with an independent
// counter per service name.
type RoundRobin struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewRoundRobin creates a new round robin strategy
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{counters: make(map[string]int)}
}

func (r *RoundRobin) Select(serviceName string, endpoints []Endpoint) Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := r.counters[serviceName] % len(endpoints)
	r.counters[serviceName]++
	return endpoints[index]
}

// Resolver turns a service name into a callable endpoint, filtering out
// anything not reporting healthy before applying the selection strategy.
type Resolver struct {
	registry Registry
	strategy Strategy
}

// NewResolver creates a new Resolver. A nil strategy defaults to round robin.
func NewResolver(registry Registry, strategy Strategy) *Resolver {
	if strategy == nil {
		strategy = NewRoundRobin()
	}
	return &Resolver{registry: registry, strategy: strategy}
}

// Resolve returns one healthy endpoint for serviceName or a NotFoundError
// when none are available.
func (r *Resolver) Resolve(ctx context.Context, serviceName string) (Endpoint, error) {
	endpoints, err := r.registry.List(ctx, serviceName)
	if err != nil {
		return Endpoint{}, err
	}

	healthy := endpoints[:0:0]
	for _, endpoint := range endpoints {
		if endpoint.Health == Healthy {
			healthy = append(healthy, endpoint)
		}
	}

	if len(healthy) == 0 {
		return Endpoint{}, &NotFoundError{ServiceName: serviceName}
	}

	return r.strategy.Select(serviceName, healthy), nil
}
