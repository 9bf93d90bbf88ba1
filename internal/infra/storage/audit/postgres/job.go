// Package postgres provides PostgreSQL-backed persistence for audit jobs,
// task states, and specialist results.
package postgres

import (
	"context"
	"errors"
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

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

var _ audit.JobRepository = (*jobStore)(nil)

// jobStore implements audit.JobRepository using PostgreSQL as the backing
// store.
type jobStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a new PostgreSQL-backed job repository with tracing
// capabilities.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *jobStore {
	return &jobStore{db: pool, tracer: tracer}
}

// CreateJob persists a new audit job.
func (r *jobStore) CreateJob(ctx context.Context, job *audit.Job) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", job.JobID().String()),
		attribute.String("status", string(job.Status())),
		attribute.String("mode", job.Mode().String()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_job", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		_, err := r.db.Exec(ctx, `
			INSERT INTO audit_jobs (job_id, target_url, company_name, mode, status, fail_reason, deadline, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			pgtype.UUID{Bytes: job.JobID(), Valid: true},
			job.TargetURL(),
			job.CompanyName(),
			job.Mode().String(),
			string(job.Status()),
			job.FailReason(),
			job.Deadline(),
			job.CreatedAt(),
			job.LastUpdateTime(),
		)
		if err != nil {
			return fmt.Errorf("CreateJob insert error: %w", err)
		}
		return nil
	})
}

// UpdateJob modifies an existing job's state in the database.
func (r *jobStore) UpdateJob(ctx context.Context, job *audit.Job) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", job.JobID().String()),
		attribute.String("status", string(job.Status())),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_job", dbAttrs, func(ctx context.Context) error {
		span := trace.SpanFromContext(ctx)

		endTime, hasEndTime := job.EndTime()
		tag, err := r.db.Exec(ctx, `
			UPDATE audit_jobs
			SET company_name = $2, status = $3, fail_reason = $4, updated_at = $5, completed_at = $6
			WHERE job_id = $1`,
			pgtype.UUID{Bytes: job.JobID(), Valid: true},
			job.CompanyName(),
			string(job.Status()),
			job.FailReason(),
			job.LastUpdateTime(),
			pgtype.Timestamptz{Time: endTime, Valid: hasEndTime},
		)
		if err != nil {
			return fmt.Errorf("UpdateJob query error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			span.SetAttributes(attribute.Bool("job_not_found", true))
			return fmt.Errorf("%w: %s", audit.ErrJobNotFound, job.JobID())
		}
		return nil
	})
}

// GetJob retrieves a job by its ID, reconstructing the domain aggregate from
// the stored row.
func (r *jobStore) GetJob(ctx context.Context, jobID uuid.UUID) (*audit.Job, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", jobID.String()),
	)

	var job *audit.Job
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		var (
			id          pgtype.UUID
			targetURL   string
			companyName string
			mode        string
			status      string
			failReason  string
			deadline    time.Time
			createdAt   time.Time
			updatedAt   time.Time
			completedAt pgtype.Timestamptz
		)

		row := r.db.QueryRow(ctx, `
			SELECT job_id, target_url, company_name, mode, status, fail_reason, deadline, created_at, updated_at, completed_at
			FROM audit_jobs
			WHERE job_id = $1`,
			pgtype.UUID{Bytes: jobID, Valid: true},
		)
		if err := row.Scan(&id, &targetURL, &companyName, &mode, &status, &failReason, &deadline, &createdAt, &updatedAt, &completedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
			}
			return fmt.Errorf("GetJob query error: %w", err)
		}

		jobStatus := audit.ParseJobStatus(status)
		if jobStatus == "" {
			return fmt.Errorf("GetJob unknown status %q", status)
		}

		timeline := audit.ReconstructTimeline(createdAt, completedAt.Time, updatedAt)
		job = audit.ReconstructJob(jobID, targetURL, companyName, audit.ParseMode(mode), deadline, jobStatus, failReason, timeline)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}
