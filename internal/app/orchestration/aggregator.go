package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

// DefaultSynthesisTimeout bounds the report synthesis call, which runs on its
// own budget after the job deadline may already have passed.
const DefaultSynthesisTimeout = 2 * time.Minute

// finalization tracks one job's finalize run so concurrent callers observe a
// single outcome.
type finalization struct {
	done   chan struct{}
	status audit.JobStatus
	err    error
}

// Aggregator observes the end of a job's task execution, runs the synthesis
// task over a consistent snapshot of results, and derives the job's terminal
// status. Finalize runs its work exactly once per job no matter how many
// callers race into it.
type Aggregator struct {
	results   audit.ResultStore
	synth     audit.ReportSynthesizer
	publisher audit.ProgressPublisher
	taskRepo  audit.TaskRepository

	synthesisTimeout time.Duration

	logger *logger.Logger
	tracer trace.Tracer

	mu   sync.Mutex
	jobs map[uuid.UUID]*finalization
}

// NewAggregator creates an aggregator with the given collaborators.
func NewAggregator(
	results audit.ResultStore,
	synth audit.ReportSynthesizer,
	publisher audit.ProgressPublisher,
	taskRepo audit.TaskRepository,
	synthesisTimeout time.Duration,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Aggregator {
	if synthesisTimeout <= 0 {
		synthesisTimeout = DefaultSynthesisTimeout
	}
	return &Aggregator{
		results:          results,
		synth:            synth,
		publisher:        publisher,
		taskRepo:         taskRepo,
		synthesisTimeout: synthesisTimeout,
		logger:           logger.With("component", "aggregator"),
		tracer:           tracer,
		jobs:             make(map[uuid.UUID]*finalization),
	}
}

// Finalize runs synthesis and computes the job's terminal status. The first
// caller for a job does the work; later or concurrent callers block until it
// is done and receive the same outcome.
func (a *Aggregator) Finalize(
	ctx context.Context,
	job *audit.Job,
	set *audit.TaskSet,
	timedOut bool,
	cancelled bool,
) (audit.JobStatus, error) {
	a.mu.Lock()
	if f, ok := a.jobs[job.JobID()]; ok {
		a.mu.Unlock()
		<-f.done
		return f.status, f.err
	}
	f := &finalization{done: make(chan struct{})}
	a.jobs[job.JobID()] = f
	a.mu.Unlock()

	f.status, f.err = a.finalize(ctx, job, set, timedOut, cancelled)
	close(f.done)
	return f.status, f.err
}

func (a *Aggregator) finalize(
	ctx context.Context,
	job *audit.Job,
	set *audit.TaskSet,
	timedOut bool,
	cancelled bool,
) (audit.JobStatus, error) {
	// Finalization must complete even when the job context is already dead.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.synthesisTimeout)
	defer cancel()

	ctx, span := a.tracer.Start(ctx, "aggregator.finalize",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.Bool("timed_out", timedOut),
			attribute.Bool("cancelled", cancelled),
		))
	defer span.End()

	a.runSynthesis(ctx, job, set, cancelled)

	status := audit.ComputeFinalStatus(set.CountByStatus(), timedOut, cancelled)
	span.SetAttributes(attribute.String("final_status", status.String()))

	a.logger.Info(ctx, "job finalized", "job_id", job.JobID(), "final_status", status)
	return status, nil
}

// runSynthesis drives the synthesis task, when the catalog has one, over the
// frozen result snapshot. A failed or skipped report never changes the final
// job status; the job's outcome is decided by its specialists.
func (a *Aggregator) runSynthesis(ctx context.Context, job *audit.Job, set *audit.TaskSet, cancelled bool) {
	reportID := a.synthesisTaskID(set)
	if reportID == "" {
		return
	}

	if cancelled {
		a.skipSynthesis(ctx, job, set, reportID, "job cancelled")
		return
	}

	results, err := a.results.GetAll(ctx, job.JobID())
	if err != nil {
		a.logger.Error(ctx, "unable to load results for synthesis", "job_id", job.JobID(), "error", err)
		a.skipSynthesis(ctx, job, set, reportID, "results unavailable")
		return
	}
	if len(results) == 0 {
		a.skipSynthesis(ctx, job, set, reportID, "no specialist results to synthesize")
		return
	}

	missing := a.missingRequired(set, results, reportID)

	now := time.Now()
	err = set.WithTask(reportID, func(t *audit.Task) error {
		if _, serr := t.StartAttempt(now); serr != nil {
			return serr
		}
		a.publish(ctx, audit.NewProgressEvent(job.JobID(), reportID, audit.TaskStatusNotStarted, audit.TaskStatusRunning, 1, ""))
		return nil
	})
	if err != nil {
		a.logger.Error(ctx, "unable to start synthesis task", "job_id", job.JobID(), "error", err)
		return
	}
	a.persistState(ctx, job, set, reportID)

	report, synthErr := a.synth.Synthesize(ctx, job, results, missing)
	if synthErr == nil {
		synthErr = a.results.Put(ctx, job.JobID(), reportID, report)
	}

	now = time.Now()
	if synthErr != nil {
		kind := audit.ClassifyError(synthErr)
		uerr := set.WithTask(reportID, func(t *audit.Task) error {
			if ferr := t.Fail(now, kind, synthErr.Error()); ferr != nil {
				return ferr
			}
			a.publish(ctx, audit.NewProgressEvent(job.JobID(), reportID, audit.TaskStatusRunning, audit.TaskStatusFailed, 1, kind.String()))
			return nil
		})
		if uerr != nil {
			a.logger.Error(ctx, "unable to record synthesis failure", "job_id", job.JobID(), "error", uerr)
		}
		a.persistState(ctx, job, set, reportID)
		a.logger.Error(ctx, "report synthesis failed", "job_id", job.JobID(), "error", synthErr)
		return
	}

	uerr := set.WithTask(reportID, func(t *audit.Task) error {
		if serr := t.Succeed(now); serr != nil {
			return serr
		}
		a.publish(ctx, audit.NewProgressEvent(job.JobID(), reportID, audit.TaskStatusRunning, audit.TaskStatusSucceeded, 1, ""))
		return nil
	})
	if uerr != nil {
		a.logger.Error(ctx, "unable to record synthesis success", "job_id", job.JobID(), "error", uerr)
	}
	a.persistState(ctx, job, set, reportID)
	a.logger.Info(ctx, "report synthesized", "job_id", job.JobID(), "missing", missing)
}

func (a *Aggregator) skipSynthesis(ctx context.Context, job *audit.Job, set *audit.TaskSet, reportID, reason string) {
	err := set.WithTask(reportID, func(t *audit.Task) error {
		if t.Status() != audit.TaskStatusNotStarted {
			return nil
		}
		if serr := t.Skip(reason); serr != nil {
			return serr
		}
		a.publish(ctx, audit.NewProgressEvent(job.JobID(), reportID, audit.TaskStatusNotStarted, audit.TaskStatusSkipped, 0, reason))
		return nil
	})
	if err != nil {
		a.logger.Error(ctx, "unable to skip synthesis task", "job_id", job.JobID(), "error", err)
		return
	}
	a.persistState(ctx, job, set, reportID)
}

func (a *Aggregator) synthesisTaskID(set *audit.TaskSet) string {
	for _, id := range set.TaskIDs() {
		if t, ok := set.Task(id); ok && t.Spec().Synthesis {
			return id
		}
	}
	return ""
}

// missingRequired lists required specialists, in catalog order, that produced
// no result.
func (a *Aggregator) missingRequired(set *audit.TaskSet, results map[string]audit.Result, reportID string) []string {
	var missing []string
	for _, id := range set.TaskIDs() {
		if id == reportID {
			continue
		}
		t, ok := set.Task(id)
		if !ok || !t.Spec().Required {
			continue
		}
		if _, found := results[id]; !found {
			missing = append(missing, id)
		}
	}
	return missing
}

func (a *Aggregator) publish(ctx context.Context, event audit.ProgressEvent) {
	if err := a.publisher.Publish(ctx, event); err != nil {
		a.logger.Error(ctx, "unable to publish progress event",
			"job_id", event.JobID, "task_id", event.TaskID, "error", err)
	}
}

func (a *Aggregator) persistState(ctx context.Context, job *audit.Job, set *audit.TaskSet, id string) {
	if a.taskRepo == nil {
		return
	}
	t, ok := set.Task(id)
	if !ok {
		return
	}
	state := audit.TaskStateView{
		TaskID:          id,
		DisplayName:     t.Spec().DisplayName,
		Status:          t.Status(),
		Attempts:        t.AttemptCount(),
		LastFailureKind: t.LastFailureKind(),
		LastError:       t.LastError(),
	}
	if err := a.taskRepo.UpdateTaskState(ctx, job.JobID(), state); err != nil {
		a.logger.Error(ctx, "unable to persist task state", "job_id", job.JobID(), "task_id", id, "error", err)
	}
}

// Forget releases the finalization record for a job. Called after the job's
// terminal status is durably recorded.
func (a *Aggregator) Forget(jobID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.jobs, jobID)
}
