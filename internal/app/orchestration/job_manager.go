package orchestration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

// ProgressBus is the full progress stream contract the job manager drives:
// publishing, subscribing, and closing a job's stream once it is terminal.
type ProgressBus interface {
	audit.ProgressPublisher
	audit.ProgressSubscriber
	CloseJob(jobID uuid.UUID)
}

// runningJob is the in-memory execution record of one active job. mu guards
// the job aggregate, which the run goroutine mutates while status readers
// project it.
type runningJob struct {
	mu        sync.Mutex
	job       *audit.Job
	set       *audit.TaskSet
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

// JobManager is the entry point of the orchestration core. It creates jobs,
// runs them to completion in the background, and serves status, cancellation
// and final results. It is the only writer of job status.
type JobManager struct {
	jobRepo  audit.JobRepository
	taskRepo audit.TaskRepository
	results  audit.ResultStore
	bus      ProgressBus

	scheduler  *Scheduler
	aggregator *Aggregator

	maxAttempts int

	logger *logger.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	running map[uuid.UUID]*runningJob
}

// NewJobManager creates the job manager with its collaborators.
func NewJobManager(
	jobRepo audit.JobRepository,
	taskRepo audit.TaskRepository,
	results audit.ResultStore,
	bus ProgressBus,
	scheduler *Scheduler,
	aggregator *Aggregator,
	maxAttempts int,
	logger *logger.Logger,
	tracer trace.Tracer,
) *JobManager {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &JobManager{
		jobRepo:     jobRepo,
		taskRepo:    taskRepo,
		results:     results,
		bus:         bus,
		scheduler:   scheduler,
		aggregator:  aggregator,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "job_manager"),
		tracer:      tracer,
		running:     make(map[uuid.UUID]*runningJob),
	}
}

// StartAudit validates the target, creates the job and its task set, persists
// both, and launches the run in the background. The returned job is already
// RUNNING.
func (m *JobManager) StartAudit(ctx context.Context, targetURL, companyName string, mode audit.Mode) (*audit.Job, error) {
	ctx, span := m.tracer.Start(ctx, "job_manager.start_audit",
		trace.WithAttributes(
			attribute.String("target_url", targetURL),
			attribute.String("mode", mode.String()),
		))
	defer span.End()

	if err := validateTargetURL(targetURL); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid target url")
		return nil, err
	}
	if mode == "" {
		mode = audit.ModeFull
	}

	job := audit.NewJob(uuid.New(), targetURL, mode)
	job.SetCompanyName(companyName)

	specs := audit.CatalogForMode(mode)
	set, err := audit.NewTaskSet(job.JobID(), specs, m.maxAttempts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "building task set")
		return nil, fmt.Errorf("building task set: %w", err)
	}

	if err := m.jobRepo.CreateJob(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persisting job")
		return nil, fmt.Errorf("persisting job: %w", err)
	}
	if err := m.taskRepo.CreateTasks(ctx, job.JobID(), specs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persisting tasks")
		return nil, fmt.Errorf("persisting tasks: %w", err)
	}

	if err := job.UpdateStatus(audit.JobStatusRunning); err != nil {
		return nil, fmt.Errorf("starting job: %w", err)
	}
	if err := m.jobRepo.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting job start: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rj := &runningJob{job: job, set: set, cancel: cancel, done: make(chan struct{})}

	// The caller receives a snapshot; the run goroutine owns the live
	// aggregate from here on.
	snapshot := job.Clone()

	m.mu.Lock()
	m.running[job.JobID()] = rj
	m.mu.Unlock()

	m.logger.Info(ctx, "audit started",
		"job_id", job.JobID(), "target_url", targetURL, "mode", mode, "deadline", job.Deadline())

	go m.run(runCtx, rj)

	return snapshot, nil
}

// run drives one job from RUNNING to its terminal status.
func (m *JobManager) run(ctx context.Context, rj *runningJob) {
	defer close(rj.done)

	job, set := rj.job, rj.set

	jobCtx, cancel := context.WithDeadline(ctx, job.Deadline())
	defer cancel()

	if err := m.scheduler.Run(jobCtx, job, set); err != nil {
		m.logger.Error(jobCtx, "scheduler run failed", "job_id", job.JobID(), "error", err)
	}

	cancelled := rj.cancelled.Load()
	timedOut := errors.Is(jobCtx.Err(), context.DeadlineExceeded) && !cancelled

	status, err := m.aggregator.Finalize(jobCtx, job, set, timedOut, cancelled)
	if err != nil {
		m.logger.Error(jobCtx, "finalize failed", "job_id", job.JobID(), "error", err)
		status = audit.JobStatusFailed
	}

	// Persistence runs on a detached context: the job context is often
	// already expired at this point.
	pctx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer pcancel()

	rj.mu.Lock()
	if err := job.UpdateStatus(status); err != nil {
		m.logger.Error(pctx, "unable to set terminal job status",
			"job_id", job.JobID(), "status", status, "error", err)
	}
	terminal := job.Clone()
	rj.mu.Unlock()

	if err := m.jobRepo.UpdateJob(pctx, terminal); err != nil {
		m.logger.Error(pctx, "unable to persist terminal job", "job_id", job.JobID(), "error", err)
	}

	m.bus.CloseJob(job.JobID())
	m.aggregator.Forget(job.JobID())

	m.mu.Lock()
	delete(m.running, job.JobID())
	m.mu.Unlock()

	m.logger.Info(pctx, "audit finished", "job_id", job.JobID(), "status", status)
}

// Cancel requests cancellation of an active job. Cancelling a job that is
// already terminal returns ErrJobTerminal.
func (m *JobManager) Cancel(ctx context.Context, jobID uuid.UUID) error {
	m.mu.RLock()
	rj, active := m.running[jobID]
	m.mu.RUnlock()

	if active {
		rj.cancelled.Store(true)
		rj.cancel()
		m.logger.Info(ctx, "cancellation requested", "job_id", jobID)
		return nil
	}

	job, err := m.jobRepo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status().IsTerminal() {
		return fmt.Errorf("%w: %s", audit.ErrJobTerminal, job.Status())
	}

	// The job exists but is not executing here, e.g. it was interrupted by a
	// restart. Record the cancellation directly.
	if err := job.UpdateStatus(audit.JobStatusCancelled); err != nil {
		return fmt.Errorf("cancelling inactive job: %w", err)
	}
	if err := m.jobRepo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persisting cancellation: %w", err)
	}
	m.bus.CloseJob(jobID)
	return nil
}

// JobStatusView is a point-in-time projection of a job and its tasks.
type JobStatusView struct {
	JobID       uuid.UUID             `json:"job_id"`
	TargetURL   string                `json:"target_url"`
	CompanyName string                `json:"company_name,omitempty"`
	Mode        audit.Mode            `json:"mode"`
	Status      audit.JobStatus       `json:"status"`
	FailReason  string                `json:"fail_reason,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	Deadline    time.Time             `json:"deadline"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Tasks       []audit.TaskStateView `json:"tasks"`
}

// GetStatus returns the current state of a job and all of its tasks. Active
// jobs are served from memory; finished jobs from the repositories.
func (m *JobManager) GetStatus(ctx context.Context, jobID uuid.UUID) (JobStatusView, error) {
	m.mu.RLock()
	rj, active := m.running[jobID]
	m.mu.RUnlock()

	if active {
		rj.mu.Lock()
		view := buildStatusView(rj.job, rj.set.States())
		rj.mu.Unlock()
		return view, nil
	}

	job, err := m.jobRepo.GetJob(ctx, jobID)
	if err != nil {
		return JobStatusView{}, err
	}
	states, err := m.taskRepo.ListTaskStates(ctx, jobID)
	if err != nil {
		return JobStatusView{}, err
	}
	return buildStatusView(job, states), nil
}

// GetFinalResults returns the synthesized report and per-task results of a
// terminal job.
func (m *JobManager) GetFinalResults(ctx context.Context, jobID uuid.UUID) (*audit.FinalReport, error) {
	job, err := m.jobRepo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status().IsTerminal() {
		return nil, fmt.Errorf("%w: %s", audit.ErrJobNotTerminal, job.Status())
	}

	results, err := m.results.GetAll(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("loading results: %w", err)
	}

	report := audit.FinalReport{
		JobID:   jobID,
		Status:  job.Status(),
		Results: results,
	}

	if r, ok := results[audit.TaskReport]; ok {
		report.Report = r
		delete(results, audit.TaskReport)
	}

	for _, spec := range audit.CatalogForMode(job.Mode()) {
		if spec.Synthesis || !spec.Required {
			continue
		}
		if _, ok := results[spec.ID]; !ok {
			report.Missing = append(report.Missing, spec.ID)
		}
	}

	return &report, nil
}

// Subscribe exposes the progress stream of a job. Active jobs stream from the
// bus; finished or resumed jobs get a snapshot of their persisted task states
// and an immediately closed channel. Unknown jobs return ErrJobNotFound, so a
// subscriber never hangs on a stream that will produce nothing.
func (m *JobManager) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan audit.ProgressEvent, error) {
	m.mu.RLock()
	_, active := m.running[jobID]
	m.mu.RUnlock()

	if active {
		return m.bus.Subscribe(ctx, jobID)
	}

	if _, err := m.jobRepo.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	states, err := m.taskRepo.ListTaskStates(ctx, jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan audit.ProgressEvent, len(states))
	for _, state := range states {
		ch <- audit.NewProgressEvent(jobID, state.TaskID, state.Status, state.Status, state.Attempts, state.LastError)
	}
	close(ch)
	return ch, nil
}

// Wait blocks until the given job's background run finishes or ctx is done.
// Jobs not currently running return immediately.
func (m *JobManager) Wait(ctx context.Context, jobID uuid.UUID) error {
	m.mu.RLock()
	rj, active := m.running[jobID]
	m.mu.RUnlock()

	if !active {
		return nil
	}
	select {
	case <-rj.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildStatusView(job *audit.Job, states []audit.TaskStateView) JobStatusView {
	view := JobStatusView{
		JobID:       job.JobID(),
		TargetURL:   job.TargetURL(),
		CompanyName: job.CompanyName(),
		Mode:        job.Mode(),
		Status:      job.Status(),
		FailReason:  job.FailReason(),
		CreatedAt:   job.CreatedAt(),
		Deadline:    job.Deadline(),
		Tasks:       states,
	}
	if end, ok := job.EndTime(); ok {
		view.CompletedAt = &end
	}
	return view
}

func validateTargetURL(raw string) error {
	if raw == "" {
		return errors.New("target url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid target url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("target url must have a host")
	}
	return nil
}
