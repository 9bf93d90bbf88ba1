package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/internal/infra/storage"
)

var _ audit.TaskRepository = (*taskStore)(nil)

// taskStore implements audit.TaskRepository using PostgreSQL as the backing
// store. One row per (job, task) holds the task's latest state view.
type taskStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewTaskStore creates a new PostgreSQL-backed task state repository.
func NewTaskStore(pool *pgxpool.Pool, tracer trace.Tracer) *taskStore {
	return &taskStore{db: pool, tracer: tracer}
}

// CreateTasks inserts the initial NOT_STARTED rows for every spec of a job in
// one transaction.
func (r *taskStore) CreateTasks(ctx context.Context, jobID uuid.UUID, specs []audit.TaskSpec) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.Int("task_count", len(specs)),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_tasks", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		tx, err := r.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		for _, spec := range specs {
			_, err := tx.Exec(ctx, `
				INSERT INTO audit_tasks (job_id, task_id, display_name, status)
				VALUES ($1, $2, $3, $4)`,
				pgtype.UUID{Bytes: jobID, Valid: true},
				spec.ID,
				spec.DisplayName,
				string(audit.TaskStatusNotStarted),
			)
			if err != nil {
				return fmt.Errorf("CreateTasks insert error for %q: %w", spec.ID, err)
			}
		}

		return tx.Commit(ctx)
	})
}

// UpdateTaskState writes the task's current state view.
func (r *taskStore) UpdateTaskState(ctx context.Context, jobID uuid.UUID, state audit.TaskStateView) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("task_id", state.TaskID),
		attribute.String("status", string(state.Status)),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_task_state", dbAttrs, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `
			UPDATE audit_tasks
			SET status = $3, attempts = $4, last_failure_kind = $5, last_error = $6, updated_at = NOW()
			WHERE job_id = $1 AND task_id = $2`,
			pgtype.UUID{Bytes: jobID, Valid: true},
			state.TaskID,
			string(state.Status),
			state.Attempts,
			string(state.LastFailureKind),
			state.LastError,
		)
		if err != nil {
			return fmt.Errorf("UpdateTaskState query error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s/%s", audit.ErrTaskNotFound, jobID, state.TaskID)
		}
		return nil
	})
}

// ListTaskStates returns every task row of a job ordered by task ID.
func (r *taskStore) ListTaskStates(ctx context.Context, jobID uuid.UUID) ([]audit.TaskStateView, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
	)

	var states []audit.TaskStateView
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_task_states", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, `
			SELECT task_id, display_name, status, attempts, last_failure_kind, last_error
			FROM audit_tasks
			WHERE job_id = $1
			ORDER BY task_id`,
			pgtype.UUID{Bytes: jobID, Valid: true},
		)
		if err != nil {
			return fmt.Errorf("ListTaskStates query error: %w", err)
		}
		defer rows.Close()

		states, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.TaskStateView, error) {
			var (
				state       audit.TaskStateView
				status      string
				failureKind string
			)
			if err := row.Scan(&state.TaskID, &state.DisplayName, &status, &state.Attempts, &failureKind, &state.LastError); err != nil {
				return audit.TaskStateView{}, err
			}
			state.Status = audit.ParseTaskStatus(status)
			state.LastFailureKind = audit.ParseFailureKind(failureKind)
			return state, nil
		})
		if err != nil {
			return fmt.Errorf("ListTaskStates scan error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}
