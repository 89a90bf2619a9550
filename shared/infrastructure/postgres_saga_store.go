package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/orderstack/fulfillment-system/shared/models"
	"github.com/orderstack/fulfillment-system/shared/saga"
	"github.com/pkg/errors"
)

// PostgresSagaStore implements saga.Store using PostgreSQL. Concurrent saves
// of the same saga are fenced by the version column: the UPDATE only matches
// the version the caller loaded, so a stale writer gets OptimisticLockError
// instead of silently overwriting.
//
// Expected schema (sagas table): id uuid primary key, definition text,
// current_step_index int, data jsonb, status text, error text, retry_count
// int, max_retries int, version int, created_at timestamptz, updated_at
// timestamptz, plus an index on (status, updated_at) for recovery scans.
type PostgresSagaStore struct {
	db *sqlx.DB
}

// NewPostgresSagaStore creates a new PostgresSagaStore
func NewPostgresSagaStore(db *sqlx.DB) *PostgresSagaStore {
	return &PostgresSagaStore{db: db}
}

// postgresSaga represents saga state in database
type postgresSaga struct {
	ID               string    `db:"id"`
	Definition       string    `db:"definition"`
	CurrentStepIndex int       `db:"current_step_index"`
	Data             []byte    `db:"data"`
	Status           string    `db:"status"`
	Error            string    `db:"error"`
	RetryCount       int       `db:"retry_count"`
	MaxRetries       int       `db:"max_retries"`
	Version          int       `db:"version"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Save upserts the saga state. New states (version 0) are inserted at version
// 1; existing states are updated only when the stored version matches the
// version the caller loaded. The caller's state carries the new version on
// success.
func (s *PostgresSagaStore) Save(ctx context.Context, state *saga.State) error {
	row, err := s.toPostgres(state)
	if err != nil {
		return err
	}

	if state.Version == 0 {
		query := `
			INSERT INTO sagas (
				id, definition, current_step_index, data, status, error,
				retry_count, max_retries, version, created_at, updated_at
			) VALUES (
				:id, :definition, :current_step_index, :data, :status, :error,
				:retry_count, :max_retries, :version, :created_at, :updated_at
			)`

		row.Version = 1
		if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
			return errors.Wrap(err, "failed to insert saga state")
		}
		state.Version = 1
		return nil
	}

	query := `
		UPDATE sagas SET
			current_step_index = :current_step_index,
			data = :data,
			status = :status,
			error = :error,
			retry_count = :retry_count,
			max_retries = :max_retries,
			version = :version + 1,
			updated_at = :updated_at
		WHERE id = :id AND version = :version`

	result, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return errors.Wrap(err, "failed to update saga state")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if affected == 0 {
		return &saga.OptimisticLockError{SagaID: state.ID, Version: state.Version}
	}

	state.Version++
	return nil
}

// Get loads the saga state or returns a NotFoundError
func (s *PostgresSagaStore) Get(ctx context.Context, id models.ID) (*saga.State, error) {
	query := `
		SELECT id, definition, current_step_index, data, status, error,
			   retry_count, max_retries, version, created_at, updated_at
		FROM sagas
		WHERE id = $1`

	var row postgresSaga
	err := s.db.GetContext(ctx, &row, query, id.String())
	if err == sql.ErrNoRows {
		return nil, &saga.NotFoundError{SagaID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get saga state")
	}

	return s.toDomain(&row)
}

// Delete removes the saga state
func (s *PostgresSagaStore) Delete(ctx context.Context, id models.ID) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sagas WHERE id = $1", id.String())
	if err != nil {
		return errors.Wrap(err, "failed to delete saga state")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read delete result")
	}
	if affected == 0 {
		return &saga.NotFoundError{SagaID: id}
	}
	return nil
}

// ListByStatus returns all sagas in the given status, oldest first, for
// recovery and retry scans
func (s *PostgresSagaStore) ListByStatus(ctx context.Context, status saga.Status) ([]*saga.State, error) {
	query := `
		SELECT id, definition, current_step_index, data, status, error,
			   retry_count, max_retries, version, created_at, updated_at
		FROM sagas
		WHERE status = $1
		ORDER BY updated_at ASC`

	var rows []postgresSaga
	if err := s.db.SelectContext(ctx, &rows, query, string(status)); err != nil {
		return nil, errors.Wrap(err, "failed to list sagas by status")
	}

	states := make([]*saga.State, len(rows))
	for i, row := range rows {
		state, err := s.toDomain(&row)
		if err != nil {
			return nil, err
		}
		states[i] = state
	}
	return states, nil
}

// toPostgres converts domain state to postgres model
func (s *PostgresSagaStore) toPostgres(state *saga.State) (*postgresSaga, error) {
	data, err := json.Marshal(state.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal saga data")
	}

	return &postgresSaga{
		ID:               state.ID.String(),
		Definition:       state.Definition,
		CurrentStepIndex: state.CurrentStepIndex,
		Data:             data,
		Status:           string(state.Status),
		Error:            state.Error,
		RetryCount:       state.RetryCount,
		MaxRetries:       state.MaxRetries,
		Version:          state.Version,
		CreatedAt:        state.CreatedAt,
		UpdatedAt:        state.UpdatedAt,
	}, nil
}

// toDomain converts postgres model to domain state
func (s *PostgresSagaStore) toDomain(row *postgresSaga) (*saga.State, error) {
	id, err := models.NewID(row.ID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga ID")
	}

	var data saga.Data
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal saga data")
	}

	return &saga.State{
		ID:               id,
		Definition:       row.Definition,
		CurrentStepIndex: row.CurrentStepIndex,
		Data:             data,
		Status:           saga.Status(row.Status),
		Error:            row.Error,
		RetryCount:       row.RetryCount,
		MaxRetries:       row.MaxRetries,
		Version:          row.Version,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}

// Ensure PostgresSagaStore implements saga.Store
var _ saga.Store = (*PostgresSagaStore)(nil)
