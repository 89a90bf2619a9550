package saga

import (
	"context"
	"sync"

	"github.com/orderstack/fulfillment-system/shared/models"
)

// MemoryStore implements Store using an in-memory map. Reference
// implementation for tests and local development; a durable deployment uses
// the Postgres store in shared/infrastructure.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[models.ID]*State
}

// NewMemoryStore creates a new MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[models.ID]*State),
	}
}

// Save upserts the state, enforcing optimistic concurrency on update
func (s *MemoryStore) Save(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.states[state.ID]
	if ok && existing.Version != state.Version {
		return &OptimisticLockError{SagaID: state.ID, Version: state.Version}
	}

	state.Version++
	s.states[state.ID] = state.Clone()
	return nil
}

// Get returns a copy of the stored state or a NotFoundError
func (s *MemoryStore) Get(ctx context.Context, id models.ID) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[id]
	if !ok {
		return nil, &NotFoundError{SagaID: id}
	}
	return state.Clone(), nil
}

// Delete removes the stored state
func (s *MemoryStore) Delete(ctx context.Context, id models.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[id]; !ok {
		return &NotFoundError{SagaID: id}
	}
	delete(s.states, id)
	return nil
}

// ListByStatus returns copies of all sagas in the given status
func (s *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*State
	for _, state := range s.states {
		if state.Status == status {
			result = append(result, state.Clone())
		}
	}
	return result, nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
