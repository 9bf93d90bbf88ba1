// Package audit contains the domain model of the GTM audit orchestration
// core: jobs, specialist tasks, their status machines, the failure taxonomy,
// and the ports the application layer drives.
package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// Domain sentinel errors.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrTaskNotFound   = errors.New("task not found")
	ErrNoResult       = errors.New("no result stored for task")
	ErrJobNotTerminal = errors.New("job has not reached a terminal status")
	ErrJobTerminal    = errors.New("job already reached a terminal status")
	ErrDuplicateResult = errors.New("result already stored for task")
)

// AgentInput carries everything an agent adapter needs for one attempt.
// Dependencies holds the stored results of the task's dependency set so
// downstream specialists can build on the scraper's output without touching
// shared state.
type AgentInput struct {
	JobID        uuid.UUID
	TargetURL    string
	Mode         Mode
	Dependencies map[string]Result
}

// AgentTask wraps one external specialist analysis as a uniform async
// operation. Implementations must observe ctx cancellation and return
// promptly rather than block past the job deadline; failures should be
// wrapped with NewFailure so the scheduler can classify them.
type AgentTask interface {
	// ID returns the stable task name this adapter serves.
	ID() string

	// Execute runs one attempt and returns the opaque result payload.
	Execute(ctx context.Context, input AgentInput) (Result, error)
}

// ReportSynthesizer is the external report-generation collaborator. The
// aggregator hands it the consistent result snapshot exactly once per job;
// missing lists the required tasks that produced no result so a partial
// report can name its gaps.
type ReportSynthesizer interface {
	Synthesize(ctx context.Context, job *Job, results map[string]Result, missing []string) (Result, error)
}

// ResultStore is the durable keyed store of per-task results for a job.
// Writes for different task IDs are independent; at most one write per
// (job, task) ever happens because only one attempt per task reaches
// SUCCEEDED.
type ResultStore interface {
	Put(ctx context.Context, jobID uuid.UUID, taskID string, result Result) error
	Get(ctx context.Context, jobID uuid.UUID, taskID string) (Result, error)
	GetAll(ctx context.Context, jobID uuid.UUID) (map[string]Result, error)
}

// JobRepository persists job records.
type JobRepository interface {
	CreateJob(ctx context.Context, job *Job) error
	UpdateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)
}

// TaskRepository persists per-task state rows for inspection and resume.
type TaskRepository interface {
	CreateTasks(ctx context.Context, jobID uuid.UUID, specs []TaskSpec) error
	UpdateTaskState(ctx context.Context, jobID uuid.UUID, state TaskStateView) error
	ListTaskStates(ctx context.Context, jobID uuid.UUID) ([]TaskStateView, error)
}

// ProgressPublisher is the write side of the progress stream. The scheduler is
// the single publisher for a given task's events.
type ProgressPublisher interface {
	Publish(ctx context.Context, event ProgressEvent) error
}

// ProgressSubscriber is the read side: Subscribe returns a stream that first
// yields a snapshot of every task's current state, then live updates, until
// ctx is done or the job's stream is closed.
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan ProgressEvent, error)
}

// FinalReport pairs the synthesized report with the raw per-task results for
// API consumers and renderers.
type FinalReport struct {
	JobID   uuid.UUID         `json:"job_id"`
	Status  JobStatus         `json:"status"`
	Report  json.RawMessage   `json:"report,omitempty"`
	Results map[string]Result `json:"results"`
	Missing []string          `json:"missing,omitempty"`
}
