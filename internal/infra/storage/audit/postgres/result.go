package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/internal/infra/storage"
)

// uniqueViolation is the postgres error code for unique constraint violations.
const uniqueViolation = "23505"

var _ audit.ResultStore = (*resultStore)(nil)

// resultStore implements audit.ResultStore using PostgreSQL as the backing
// store. Results are opaque JSONB payloads keyed by (job, task).
type resultStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewResultStore creates a new PostgreSQL-backed result store.
func NewResultStore(pool *pgxpool.Pool, tracer trace.Tracer) *resultStore {
	return &resultStore{db: pool, tracer: tracer}
}

// Put stores the result of one task. A second write for the same (job, task)
// returns ErrDuplicateResult.
func (r *resultStore) Put(ctx context.Context, jobID uuid.UUID, taskID string, result audit.Result) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("task_id", taskID),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.put_result", dbAttrs, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, `
			INSERT INTO audit_results (job_id, task_id, result)
			VALUES ($1, $2, $3)`,
			pgtype.UUID{Bytes: jobID, Valid: true},
			taskID,
			[]byte(result),
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s/%s", audit.ErrDuplicateResult, jobID, taskID)
			}
			return fmt.Errorf("Put insert error: %w", err)
		}
		return nil
	})
}

// Get returns the stored result of one task.
func (r *resultStore) Get(ctx context.Context, jobID uuid.UUID, taskID string) (audit.Result, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
		attribute.String("task_id", taskID),
	)

	var result audit.Result
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_result", dbAttrs, func(ctx context.Context) error {
		var payload []byte
		row := r.db.QueryRow(ctx, `
			SELECT result FROM audit_results
			WHERE job_id = $1 AND task_id = $2`,
			pgtype.UUID{Bytes: jobID, Valid: true},
			taskID,
		)
		if err := row.Scan(&payload); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s/%s", audit.ErrNoResult, jobID, taskID)
			}
			return fmt.Errorf("Get query error: %w", err)
		}
		result = audit.Result(payload)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetAll returns every stored result of a job keyed by task ID.
func (r *resultStore) GetAll(ctx context.Context, jobID uuid.UUID) (map[string]audit.Result, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
	)

	results := make(map[string]audit.Result)
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_all_results", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, `
			SELECT task_id, result FROM audit_results
			WHERE job_id = $1`,
			pgtype.UUID{Bytes: jobID, Valid: true},
		)
		if err != nil {
			return fmt.Errorf("GetAll query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				taskID  string
				payload []byte
			)
			if err := rows.Scan(&taskID, &payload); err != nil {
				return fmt.Errorf("GetAll scan error: %w", err)
			}
			results[taskID] = audit.Result(payload)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
