package discovery

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is an in-memory Registry for tests and single-process
// deployments.
type MemoryRegistry struct {
	mu       sync.RWMutex
	services map[string]map[string]Endpoint
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates a new in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{services: make(map[string]map[string]Endpoint)}
}

func (r *MemoryRegistry) Register(ctx context.Context, endpoint Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.services[endpoint.ServiceName]
	if !ok {
		byID = make(map[string]Endpoint)
		r.services[endpoint.ServiceName] = byID
	}
	byID[endpoint.ID] = endpoint
	return nil
}

func (r *MemoryRegistry) Unregister(ctx context.Context, serviceName, endpointID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.services[serviceName], endpointID)
	return nil
}

func (r *MemoryRegistry) List(ctx context.Context, serviceName string) ([]Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := r.services[serviceName]
	endpoints := make([]Endpoint, 0, len(byID))
	for _, endpoint := range byID {
		endpoints = append(endpoints, endpoint)
	}
	// stable order makes round robin deterministic
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].ID < endpoints[j].ID })
	return endpoints, nil
}
