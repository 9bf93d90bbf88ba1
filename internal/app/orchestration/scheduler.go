package orchestration

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

// AgentRegistry resolves a task ID to the agent adapter that executes it.
type AgentRegistry interface {
	Get(taskID string) (audit.AgentTask, bool)
}

// Scheduler runs every specialist task of one job to a terminal state. Tasks
// with no unmet dependencies run concurrently up to the configured cap; the
// scheduler drives the per-task attempt loop, consulting the retry policy
// after each failure. Synthesis tasks are never scheduled here.
type Scheduler struct {
	agents    AgentRegistry
	results   audit.ResultStore
	publisher audit.ProgressPublisher
	taskRepo  audit.TaskRepository
	retry     *RetryPolicy

	maxConcurrent int64

	logger *logger.Logger
	tracer trace.Tracer
}

// NewScheduler creates a scheduler with the given collaborators.
func NewScheduler(
	agents AgentRegistry,
	results audit.ResultStore,
	publisher audit.ProgressPublisher,
	taskRepo audit.TaskRepository,
	retry *RetryPolicy,
	maxConcurrent int,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	return &Scheduler{
		agents:        agents,
		results:       results,
		publisher:     publisher,
		taskRepo:      taskRepo,
		retry:         retry,
		maxConcurrent: int64(maxConcurrent),
		logger:        logger.With("component", "scheduler"),
		tracer:        tracer,
	}
}

// Run executes all non-synthesis tasks of the job and blocks until every one
// of them is terminal. The provided context carries the job deadline; when it
// fires, running attempts are cut off and unstarted tasks are skipped. Run
// itself never fails because of task failures.
func (s *Scheduler) Run(ctx context.Context, job *audit.Job, set *audit.TaskSet) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.run",
		trace.WithAttributes(
			attribute.String("job_id", job.JobID().String()),
			attribute.String("mode", job.Mode().String()),
		))
	defer span.End()

	// Each task closes its channel once it is terminal and will never run
	// again. Dependents wait on these instead of polling.
	done := make(map[string]chan struct{})
	var runnable []string
	for _, id := range set.TaskIDs() {
		t, _ := set.Task(id)
		if t.Spec().Synthesis {
			continue
		}
		done[id] = make(chan struct{})
		runnable = append(runnable, id)
	}

	sem := semaphore.NewWeighted(s.maxConcurrent)

	var g errgroup.Group
	for _, id := range runnable {
		g.Go(func() error {
			s.runTask(ctx, job, set, id, done, sem)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scheduler run failed")
		return err
	}

	s.logger.Info(ctx, "all specialist tasks terminal", "job_id", job.JobID())
	return nil
}

// runTask drives one task from NOT_STARTED to a terminal state.
func (s *Scheduler) runTask(
	ctx context.Context,
	job *audit.Job,
	set *audit.TaskSet,
	id string,
	done map[string]chan struct{},
	sem *semaphore.Weighted,
) {
	defer close(done[id])

	t, ok := set.Task(id)
	if !ok {
		s.logger.Error(ctx, "task missing from set", "job_id", job.JobID(), "task_id", id)
		return
	}

	for _, depID := range t.Spec().DependsOn {
		select {
		case <-done[depID]:
		case <-ctx.Done():
			s.skipIfNotStarted(ctx, job, set, id, shutdownReason(ctx))
			return
		}
	}

	if blockedBy, ok := s.depsSatisfied(set, id); !ok {
		s.skipIfNotStarted(ctx, job, set, id, "dependency "+blockedBy+" did not succeed")
		return
	}

	agent, ok := s.agents.Get(id)
	if !ok {
		s.failUnstarted(ctx, job, set, id, "no agent registered for task")
		return
	}

	s.executeAttempts(ctx, job, set, id, agent, sem)
}

// executeAttempts runs the attempt loop for one task until it succeeds, the
// retry policy declines, or the job is cut off.
func (s *Scheduler) executeAttempts(
	ctx context.Context,
	job *audit.Job,
	set *audit.TaskSet,
	id string,
	agent audit.AgentTask,
	sem *semaphore.Weighted,
) {
	bo := s.retry.NewBackOff()
	logger := s.logger.With("job_id", job.JobID(), "task_id", id)

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			s.skipIfNotStarted(ctx, job, set, id, shutdownReason(ctx))
			return
		}

		var attempt int
		err := set.WithTask(id, func(t *audit.Task) error {
			from := t.Status()
			n, err := t.StartAttempt(time.Now())
			if err != nil {
				return err
			}
			attempt = n
			// Published under the set lock so the event order matches the
			// state transition order for this task.
			s.publish(ctx, audit.NewProgressEvent(job.JobID(), id, from, audit.TaskStatusRunning, n, ""))
			return nil
		})
		if err != nil {
			sem.Release(1)
			logger.Error(ctx, "unable to start attempt", "error", err)
			return
		}

		logger.Debug(ctx, "attempt started", "attempt", attempt)

		input, err := s.buildInput(ctx, job, set, id)
		var result audit.Result
		if err == nil {
			result, err = agent.Execute(ctx, input)
		}
		sem.Release(1)

		if err == nil {
			// The result must be readable before the SUCCEEDED event is
			// observable, so the store write comes first.
			if perr := s.results.Put(ctx, job.JobID(), id, result); perr != nil {
				err = audit.NewFailure(audit.FailureInternal, perr)
			}
		}

		now := time.Now()
		if err == nil {
			uerr := set.WithTask(id, func(t *audit.Task) error {
				if serr := t.Succeed(now); serr != nil {
					return serr
				}
				s.publish(ctx, audit.NewProgressEvent(job.JobID(), id, audit.TaskStatusRunning, audit.TaskStatusSucceeded, attempt, ""))
				return nil
			})
			if uerr != nil {
				logger.Error(ctx, "unable to record success", "error", uerr)
			}
			s.persistState(ctx, job, set, id)
			logger.Info(ctx, "task succeeded", "attempt", attempt)
			return
		}

		kind := audit.ClassifyError(err)
		if ctx.Err() != nil {
			// The job itself was cut off; the attempt failure is a casualty,
			// not a retry candidate.
			kind = audit.FailureCancelled
		}

		uerr := set.WithTask(id, func(t *audit.Task) error {
			if ferr := t.Fail(now, kind, err.Error()); ferr != nil {
				return ferr
			}
			s.publish(ctx, audit.NewProgressEvent(job.JobID(), id, audit.TaskStatusRunning, audit.TaskStatusFailed, attempt, kind.String()))
			return nil
		})
		if uerr != nil {
			logger.Error(ctx, "unable to record failure", "error", uerr)
			return
		}
		s.persistState(ctx, job, set, id)

		decision := s.retry.Decide(kind, attempt, bo, time.Now(), job.Deadline())
		if !decision.Retry {
			logger.Info(ctx, "task failed terminally",
				"attempt", attempt, "failure_kind", kind.String(), "reason", decision.Reason, "error", err)
			return
		}

		logger.Info(ctx, "retrying task",
			"attempt", attempt, "failure_kind", kind.String(), "delay", decision.Delay.String())

		timer := time.NewTimer(decision.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// depsSatisfied evaluates dependency outcomes after every dependency has
// finished for good. A dependency counts when it succeeded, or when it was
// skipped but is not required for completion.
func (s *Scheduler) depsSatisfied(set *audit.TaskSet, id string) (string, bool) {
	t, ok := set.Task(id)
	if !ok {
		return id, false
	}
	for _, depID := range t.Spec().DependsOn {
		dep, ok := set.Task(depID)
		if !ok {
			return depID, false
		}
		switch dep.Status() {
		case audit.TaskStatusSucceeded:
		case audit.TaskStatusSkipped:
			if dep.Spec().Required {
				return depID, false
			}
		default:
			return depID, false
		}
	}
	return "", true
}

// buildInput assembles the agent input, including the stored results of every
// dependency that produced one.
func (s *Scheduler) buildInput(ctx context.Context, job *audit.Job, set *audit.TaskSet, id string) (audit.AgentInput, error) {
	input := audit.AgentInput{
		JobID:     job.JobID(),
		TargetURL: job.TargetURL(),
		Mode:      job.Mode(),
	}

	t, ok := set.Task(id)
	if !ok {
		return input, audit.ErrTaskNotFound
	}
	if len(t.Spec().DependsOn) == 0 {
		return input, nil
	}

	deps := make(map[string]audit.Result, len(t.Spec().DependsOn))
	for _, depID := range t.Spec().DependsOn {
		res, err := s.results.Get(ctx, job.JobID(), depID)
		if err != nil {
			if errors.Is(err, audit.ErrNoResult) {
				continue
			}
			return input, err
		}
		deps[depID] = res
	}
	input.Dependencies = deps
	return input, nil
}

// skipIfNotStarted marks a task SKIPPED when it never ran. Tasks that already
// failed keep their failure record.
func (s *Scheduler) skipIfNotStarted(ctx context.Context, job *audit.Job, set *audit.TaskSet, id, reason string) {
	err := set.WithTask(id, func(t *audit.Task) error {
		if t.Status() != audit.TaskStatusNotStarted {
			return nil
		}
		if serr := t.Skip(reason); serr != nil {
			return serr
		}
		s.publish(ctx, audit.NewProgressEvent(job.JobID(), id, audit.TaskStatusNotStarted, audit.TaskStatusSkipped, 0, reason))
		return nil
	})
	if err != nil {
		s.logger.Error(ctx, "unable to skip task", "job_id", job.JobID(), "task_id", id, "error", err)
		return
	}
	s.persistState(ctx, job, set, id)
}

// failUnstarted records an internal failure for a task that could not run at
// all, e.g. when no adapter is registered for it.
func (s *Scheduler) failUnstarted(ctx context.Context, job *audit.Job, set *audit.TaskSet, id, reason string) {
	now := time.Now()
	err := set.WithTask(id, func(t *audit.Task) error {
		if _, serr := t.StartAttempt(now); serr != nil {
			return serr
		}
		s.publish(ctx, audit.NewProgressEvent(job.JobID(), id, audit.TaskStatusNotStarted, audit.TaskStatusRunning, 1, ""))
		if ferr := t.Fail(now, audit.FailureInternal, reason); ferr != nil {
			return ferr
		}
		s.publish(ctx, audit.NewProgressEvent(job.JobID(), id, audit.TaskStatusRunning, audit.TaskStatusFailed, 1, reason))
		return nil
	})
	if err != nil {
		s.logger.Error(ctx, "unable to fail task", "job_id", job.JobID(), "task_id", id, "error", err)
		return
	}
	s.persistState(ctx, job, set, id)
}

func (s *Scheduler) publish(ctx context.Context, event audit.ProgressEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error(ctx, "unable to publish progress event",
			"job_id", event.JobID, "task_id", event.TaskID, "error", err)
	}
}

// persistState writes the task's current view through the repository.
// Persistence failures are logged, never fatal to the run.
func (s *Scheduler) persistState(ctx context.Context, job *audit.Job, set *audit.TaskSet, id string) {
	if s.taskRepo == nil {
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

	// Final task states are written even after the job context is cut off.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.taskRepo.UpdateTaskState(pctx, job.JobID(), state); err != nil {
		s.logger.Error(ctx, "unable to persist task state", "job_id", job.JobID(), "task_id", id, "error", err)
	}
}

// shutdownReason names why the job context ended.
func shutdownReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "job deadline elapsed before task could run"
	}
	return "job cancelled before task could run"
}
