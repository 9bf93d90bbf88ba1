package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskSpec is the static description of one specialist task within a job.
// The full catalog is fixed and known at job creation time.
type TaskSpec struct {
	// ID is the stable task name, e.g. "seo" or "messaging".
	ID string

	// DisplayName is the human-readable name surfaced in progress events.
	DisplayName string

	// DependsOn lists task IDs that must reach a terminal state before this
	// task may start. Empty for most specialists.
	DependsOn []string

	// Required marks the task as required-for-completion: the aggregator's
	// completion condition waits on it and its outcome feeds the final job
	// status.
	Required bool

	// Synthesis marks the one task that consumes every other task's results.
	// It is run by the aggregator, never scheduled directly.
	Synthesis bool
}

// AttemptOutcome describes how a single attempt ended.
type AttemptOutcome string

const (
	AttemptOutcomeRunning   AttemptOutcome = "RUNNING"
	AttemptOutcomeSuccess   AttemptOutcome = "SUCCESS"
	AttemptOutcomeFailure   AttemptOutcome = "FAILURE"
	AttemptOutcomeCancelled AttemptOutcome = "CANCELLED"
)

// TaskAttempt records one execution attempt of a task. Attempt numbers are
// 1-based; only the latest attempt's outcome is authoritative.
type TaskAttempt struct {
	number      int
	startedAt   time.Time
	completedAt time.Time
	outcome     AttemptOutcome
	failureKind FailureKind
	errMsg      string
}

func (a TaskAttempt) Number() int            { return a.number }
func (a TaskAttempt) StartedAt() time.Time   { return a.startedAt }
func (a TaskAttempt) CompletedAt() time.Time { return a.completedAt }
func (a TaskAttempt) Outcome() AttemptOutcome { return a.outcome }
func (a TaskAttempt) FailureKind() FailureKind { return a.failureKind }
func (a TaskAttempt) Error() string          { return a.errMsg }

// Task tracks the runtime state of one TaskSpec within one job: its status,
// attempt history, and the classification of its last failure. TaskState
// transitions are monotonic; the only re-entry is FAILED -> RUNNING for a new
// attempt while the attempt budget lasts.
//
// Task is not internally synchronized; the owning TaskSet serializes access.
type Task struct {
	jobID       uuid.UUID
	spec        TaskSpec
	status      TaskStatus
	attempts    []TaskAttempt
	maxAttempts int
	skipReason  string
	timeline    *Timeline
}

// NewTask creates a Task in NOT_STARTED for the given spec.
func NewTask(jobID uuid.UUID, spec TaskSpec, maxAttempts int) *Task {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Task{
		jobID:       jobID,
		spec:        spec,
		status:      TaskStatusNotStarted,
		maxAttempts: maxAttempts,
		timeline:    NewTimeline(new(realTimeProvider)),
	}
}

// ReconstructTask creates a Task from stored fields, bypassing creation
// invariants. This should only be used by repositories when loading from the DB.
func ReconstructTask(
	jobID uuid.UUID,
	spec TaskSpec,
	status TaskStatus,
	attemptCount int,
	lastFailureKind FailureKind,
	lastErr string,
	maxAttempts int,
	timeline *Timeline,
) *Task {
	t := &Task{
		jobID:       jobID,
		spec:        spec,
		status:      status,
		maxAttempts: maxAttempts,
		timeline:    timeline,
	}
	for i := 1; i <= attemptCount; i++ {
		attempt := TaskAttempt{number: i, outcome: AttemptOutcomeFailure, failureKind: lastFailureKind, errMsg: lastErr}
		if status == TaskStatusSucceeded && i == attemptCount {
			attempt.outcome = AttemptOutcomeSuccess
			attempt.failureKind = ""
			attempt.errMsg = ""
		}
		t.attempts = append(t.attempts, attempt)
	}
	return t
}

// JobID returns the job this task belongs to.
func (t *Task) JobID() uuid.UUID { return t.jobID }

// ID returns the stable task name.
func (t *Task) ID() string { return t.spec.ID }

// Spec returns the static description of this task.
func (t *Task) Spec() TaskSpec { return t.spec }

// Status returns the current derived state of the task.
func (t *Task) Status() TaskStatus { return t.status }

// Attempts returns a copy of the attempt history.
func (t *Task) Attempts() []TaskAttempt {
	out := make([]TaskAttempt, len(t.attempts))
	copy(out, t.attempts)
	return out
}

// AttemptCount returns how many attempts have been started.
func (t *Task) AttemptCount() int { return len(t.attempts) }

// MaxAttempts returns the attempt budget.
func (t *Task) MaxAttempts() int { return t.maxAttempts }

// LatestAttempt returns the most recent attempt, if any.
func (t *Task) LatestAttempt() (TaskAttempt, bool) {
	if len(t.attempts) == 0 {
		return TaskAttempt{}, false
	}
	return t.attempts[len(t.attempts)-1], true
}

// LastFailureKind returns the classification of the latest failed attempt.
func (t *Task) LastFailureKind() FailureKind {
	for i := len(t.attempts) - 1; i >= 0; i-- {
		if t.attempts[i].outcome == AttemptOutcomeFailure || t.attempts[i].outcome == AttemptOutcomeCancelled {
			return t.attempts[i].failureKind
		}
	}
	return ""
}

// LastError returns the error message of the latest failed attempt.
func (t *Task) LastError() string {
	for i := len(t.attempts) - 1; i >= 0; i-- {
		if t.attempts[i].errMsg != "" {
			return t.attempts[i].errMsg
		}
	}
	return t.skipReason
}

// SkipReason returns the reason recorded when the task was skipped.
func (t *Task) SkipReason() string { return t.skipReason }

// GetTimeline provides access to the task's timeline information.
func (t *Task) GetTimeline() *Timeline { return t.timeline }

// StartAttempt transitions the task to RUNNING and opens a new attempt.
// It enforces the attempt budget: a task never runs more than MaxAttempts
// attempts.
func (t *Task) StartAttempt(now time.Time) (int, error) {
	if len(t.attempts) >= t.maxAttempts {
		return 0, fmt.Errorf("task %s: attempt budget exhausted (%d/%d)", t.spec.ID, len(t.attempts), t.maxAttempts)
	}
	if err := t.status.validateTransition(TaskStatusRunning); err != nil {
		return 0, err
	}

	if len(t.attempts) == 0 {
		t.timeline.MarkStarted()
	} else {
		t.timeline.UpdateLastUpdate()
	}

	t.status = TaskStatusRunning
	t.attempts = append(t.attempts, TaskAttempt{
		number:    len(t.attempts) + 1,
		startedAt: now,
		outcome:   AttemptOutcomeRunning,
	})
	return len(t.attempts), nil
}

// Succeed marks the open attempt successful and the task SUCCEEDED.
func (t *Task) Succeed(now time.Time) error {
	if err := t.status.validateTransition(TaskStatusSucceeded); err != nil {
		return err
	}
	t.closeAttempt(now, AttemptOutcomeSuccess, "", "")
	t.status = TaskStatusSucceeded
	t.timeline.MarkCompleted()
	return nil
}

// Fail marks the open attempt failed with the given classification. The task
// moves to FAILED; whether another attempt follows is the retry policy's call.
func (t *Task) Fail(now time.Time, kind FailureKind, errMsg string) error {
	if err := t.status.validateTransition(TaskStatusFailed); err != nil {
		return err
	}
	outcome := AttemptOutcomeFailure
	if kind == FailureCancelled {
		outcome = AttemptOutcomeCancelled
	}
	t.closeAttempt(now, outcome, kind, errMsg)
	t.status = TaskStatusFailed
	t.timeline.MarkCompleted()
	return nil
}

// Skip marks a never-started task SKIPPED with a reason.
func (t *Task) Skip(reason string) error {
	if err := t.status.validateTransition(TaskStatusSkipped); err != nil {
		return err
	}
	t.status = TaskStatusSkipped
	t.skipReason = reason
	t.timeline.MarkCompleted()
	return nil
}

// CanRetry reports whether another attempt is possible after a failure.
func (t *Task) CanRetry() bool {
	return t.status == TaskStatusFailed && len(t.attempts) < t.maxAttempts
}

func (t *Task) closeAttempt(now time.Time, outcome AttemptOutcome, kind FailureKind, errMsg string) {
	if len(t.attempts) == 0 {
		return
	}
	attempt := &t.attempts[len(t.attempts)-1]
	attempt.completedAt = now
	attempt.outcome = outcome
	attempt.failureKind = kind
	attempt.errMsg = errMsg
}

// Result is the opaque structured payload produced by a successful attempt.
// The orchestration core stores it and hands it to synthesis untouched.
type Result = json.RawMessage
