package saga

import (
	"context"

	"github.com/orderstack/fulfillment-system/shared/models"
)

// Store is durable keyed storage for saga state. Callers always pass the
// complete state; Save never merges partial fields. Implementations must
// enforce optimistic concurrency on update: two drivers racing on the same
// saga ID must fail one of the two Save calls with OptimisticLockError
// rather than silently lose an update.
type Store interface {
	// Save upserts the state by ID: insert if absent, full overwrite of
	// mutable fields otherwise. On success the state's Version is
	// incremented.
	Save(ctx context.Context, state *State) error

	// Get returns the stored state or a NotFoundError.
	Get(ctx context.Context, id models.ID) (*State, error)

	// Delete removes the stored state. Retention policy, not the
	// orchestrator, decides when to call this.
	Delete(ctx context.Context, id models.ID) error

	// ListByStatus returns all sagas currently in the given status, for
	// sweep/retry drivers.
	ListByStatus(ctx context.Context, status Status) ([]*State, error)
}
