package saga

import (
	"time"

	"github.com/orderstack/fulfillment-system/shared/models"
)

// Status represents the lifecycle status of a saga
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	StatusFailed       Status = "failed"
)

// Data is the application-defined saga payload. Steps read and mutate it in
// place to accumulate the side-effect markers (reservation IDs, charge IDs,
// ...) their compensations need later. It must stay JSON-serializable so the
// store can persist it.
type Data map[string]any

// Set stores a value under key
func (d Data) Set(key string, value any) {
	d[key] = value
}

// Get returns the value stored under key
func (d Data) Get(key string) (any, bool) {
	v, ok := d[key]
	return v, ok
}

// GetString returns the string value stored under key, or "" if absent
func (d Data) GetString(key string) string {
	if v, ok := d[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Clone creates a shallow copy of the data
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	clone := make(Data, len(d))
	for k, v := range d {
		clone[k] = v
	}
	return clone
}

// State is the persisted state of one saga instance
type State struct {
	ID               models.ID `json:"id" db:"id"`
	Definition       string    `json:"definition" db:"definition"`
	CurrentStepIndex int       `json:"current_step_index" db:"current_step_index"`
	Data             Data      `json:"data" db:"data"`
	Status           Status    `json:"status" db:"status"`
	Error            string    `json:"error,omitempty" db:"error"`
	RetryCount       int       `json:"retry_count" db:"retry_count"`
	MaxRetries       int       `json:"max_retries" db:"max_retries"`
	Version          int       `json:"version" db:"version"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// NewState creates the initial state for a saga instance
func NewState(id models.ID, definition string, data Data) *State {
	now := time.Now()
	if data == nil {
		data = make(Data)
	}
	return &State{
		ID:               id,
		Definition:       definition,
		CurrentStepIndex: 0,
		Data:             data,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// MarkRunning marks the saga as executing a step
func (s *State) MarkRunning() {
	s.Status = StatusRunning
	s.UpdatedAt = time.Now()
}

// MarkStepCompleted advances past the current step and leaves the saga ready
// for the next Advance call
func (s *State) MarkStepCompleted() {
	s.CurrentStepIndex++
	s.Status = StatusPending
	s.UpdatedAt = time.Now()
}

// MarkCompleted marks the saga as terminally successful
func (s *State) MarkCompleted() {
	s.Status = StatusCompleted
	s.UpdatedAt = time.Now()
}

// MarkFailed records the failure that stopped forward execution
func (s *State) MarkFailed(err error) {
	s.Status = StatusFailed
	if err != nil {
		s.Error = err.Error()
	}
	s.UpdatedAt = time.Now()
}

// MarkRequeued returns a failed saga to Pending for another attempt at the
// failed step, consuming one unit of the retry budget
func (s *State) MarkRequeued() {
	s.RetryCount++
	s.Status = StatusPending
	s.Error = ""
	s.UpdatedAt = time.Now()
}

// MarkCompensating marks the saga as unwinding completed steps
func (s *State) MarkCompensating() {
	s.Status = StatusCompensating
	s.UpdatedAt = time.Now()
}

// MarkCompensated marks the unwind as finished
func (s *State) MarkCompensated() {
	s.Status = StatusCompensated
	s.UpdatedAt = time.Now()
}

// IsTerminal reports whether the saga reached a terminal status
func (s *State) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusCompensated || s.Status == StatusFailed
}

// CanAdvance reports whether Advance may execute the next step
func (s *State) CanAdvance() bool {
	return s.Status == StatusPending || s.Status == StatusRunning
}

// CanCompensate reports whether Compensate may start unwinding
func (s *State) CanCompensate() bool {
	return s.Status == StatusFailed || s.Status == StatusCompensating
}

// Clone creates a copy of the state
func (s *State) Clone() *State {
	clone := *s
	clone.Data = s.Data.Clone()
	return &clone
}
