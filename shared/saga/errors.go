package saga

import (
	"errors"
	"fmt"

	"github.com/orderstack/fulfillment-system/shared/models"
)

// Sentinel errors for errors.Is() support
var (
	ErrNotFound        = errors.New("saga not found")
	ErrAlreadyExists   = errors.New("saga already exists")
	ErrStepFailed      = errors.New("saga step failed")
	ErrNotCompensable  = errors.New("saga is not in a compensable status")
	ErrVersionMismatch = errors.New("saga state version mismatch")
)

// NotFoundError indicates no state is stored for the given saga ID.
type NotFoundError struct {
	SagaID models.ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("saga '%s' not found", e.SagaID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// AlreadyExistsError indicates Start was called with an ID that already has
// stored state. Callers must generate a fresh ID per attempt.
type AlreadyExistsError struct {
	SagaID models.ID
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("saga '%s' already exists", e.SagaID)
}

func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// StepExecutionError wraps the business failure of a forward step. The saga
// is left in Failed status; the caller decides whether to compensate.
type StepExecutionError struct {
	SagaID    models.ID
	StepName  string
	StepIndex int
	Cause     error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("saga '%s' step '%s' (index %d) failed: %v", e.SagaID, e.StepName, e.StepIndex, e.Cause)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

func (e *StepExecutionError) Is(target error) bool {
	return target == ErrStepFailed
}

// CompensationError records the failure of a single step's compensation.
// It is logged and never propagated: one bad compensation must not block
// unwinding the remaining steps.
type CompensationError struct {
	SagaID    models.ID
	StepName  string
	StepIndex int
	Cause     error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga '%s' compensation for step '%s' (index %d) failed: %v", e.SagaID, e.StepName, e.StepIndex, e.Cause)
}

func (e *CompensationError) Unwrap() error {
	return e.Cause
}

// OptimisticLockError indicates two drivers raced on the same saga ID and
// this Save lost. The caller should re-read and retry the whole operation.
type OptimisticLockError struct {
	SagaID  models.ID
	Version int
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("saga '%s' was modified concurrently (version %d is stale)", e.SagaID, e.Version)
}

func (e *OptimisticLockError) Is(target error) bool {
	return target == ErrVersionMismatch
}
