package audit

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TaskSet holds the full runtime task state of one job. It serializes all task
// mutation behind its mutex so the scheduler's worker goroutines and the
// aggregator's completion check observe a consistent view.
type TaskSet struct {
	mu    sync.RWMutex
	jobID uuid.UUID
	order []string
	tasks map[string]*Task
}

// NewTaskSet builds the runtime task set for a job from its specs.
func NewTaskSet(jobID uuid.UUID, specs []TaskSpec, maxAttempts int) (*TaskSet, error) {
	set := &TaskSet{jobID: jobID, tasks: make(map[string]*Task, len(specs))}
	for _, spec := range specs {
		if _, exists := set.tasks[spec.ID]; exists {
			return nil, fmt.Errorf("duplicate task spec %q", spec.ID)
		}
		set.tasks[spec.ID] = NewTask(jobID, spec, maxAttempts)
		set.order = append(set.order, spec.ID)
	}
	for _, spec := range specs {
		for _, dep := range spec.DependsOn {
			if _, ok := set.tasks[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", spec.ID, dep)
			}
		}
	}
	return set, nil
}

// JobID returns the job this set belongs to.
func (s *TaskSet) JobID() uuid.UUID { return s.jobID }

// TaskIDs returns the task IDs in catalog order.
func (s *TaskSet) TaskIDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Task returns the task with the given ID.
func (s *TaskSet) Task(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// WithTask runs fn with the named task under the set's write lock.
func (s *TaskSet) WithTask(id string, fn func(*Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return fn(t)
}

// Snapshot returns the current status of every task, keyed by task ID.
func (s *TaskSet) Snapshot() map[string]TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]TaskStatus, len(s.tasks))
	for id, t := range s.tasks {
		out[id] = t.Status()
	}
	return out
}

// States returns a point-in-time view of every task in catalog order,
// suitable for API status responses and progress snapshots.
func (s *TaskSet) States() []TaskStateView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskStateView, 0, len(s.order))
	for _, id := range s.order {
		t := s.tasks[id]
		out = append(out, TaskStateView{
			TaskID:          id,
			DisplayName:     t.Spec().DisplayName,
			Status:          t.Status(),
			Attempts:        t.AttemptCount(),
			LastFailureKind: t.LastFailureKind(),
			LastError:       t.LastError(),
		})
	}
	return out
}

// DependencyStatus summarizes a dependency check for a task about to start.
type DependencyStatus int

const (
	// DepsReady means every dependency is terminal and satisfied.
	DepsReady DependencyStatus = iota
	// DepsPending means at least one dependency is not yet terminal.
	DepsPending
	// DepsUnsatisfiable means a dependency failed or was skipped while
	// required, so the task can never start.
	DepsUnsatisfiable
)

// CheckDependencies evaluates whether the named task may start. A dependency
// is satisfied when it Succeeded, or when it was Skipped but is not required.
func (s *TaskSet) CheckDependencies(id string) DependencyStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return DepsUnsatisfiable
	}
	for _, depID := range t.Spec().DependsOn {
		dep := s.tasks[depID]
		switch dep.Status() {
		case TaskStatusSucceeded:
			// satisfied
		case TaskStatusSkipped:
			if dep.Spec().Required {
				return DepsUnsatisfiable
			}
		case TaskStatusFailed:
			if !dep.CanRetry() {
				return DepsUnsatisfiable
			}
			return DepsPending
		default:
			return DepsPending
		}
	}
	return DepsReady
}

// AllRequiredTerminal reports whether every required-for-completion task has
// reached a terminal state. Synthesis tasks are excluded: they are run by the
// aggregator after this condition first holds.
func (s *TaskSet) AllRequiredTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.Spec().Synthesis {
			continue
		}
		if t.Spec().Required && !t.Status().IsTerminal() {
			return false
		}
	}
	return true
}

// CountByStatus tallies non-synthesis tasks per status.
func (s *TaskSet) CountByStatus() map[TaskStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[TaskStatus]int)
	for _, t := range s.tasks {
		if t.Spec().Synthesis {
			continue
		}
		out[t.Status()]++
	}
	return out
}

// TaskStateView is a read-only projection of one task's state for callers
// outside the orchestration core.
type TaskStateView struct {
	TaskID          string      `json:"task_id"`
	DisplayName     string      `json:"display_name"`
	Status          TaskStatus  `json:"status"`
	Attempts        int         `json:"attempts"`
	LastFailureKind FailureKind `json:"last_failure_kind,omitempty"`
	LastError       string      `json:"last_error,omitempty"`
}

// ComputeFinalStatus derives the job's terminal status from the task tallies.
// Cancellation and deadline expiry take precedence over the plain
// success/failure split so a cut-off job is distinguishable from one that ran
// its course.
func ComputeFinalStatus(counts map[TaskStatus]int, timedOut, cancelled bool) JobStatus {
	succeeded := counts[TaskStatusSucceeded]
	failedOrSkipped := counts[TaskStatusFailed] + counts[TaskStatusSkipped]

	if cancelled {
		return JobStatusCancelled
	}
	if succeeded == 0 {
		if timedOut {
			return JobStatusTimedOut
		}
		return JobStatusFailed
	}
	if failedOrSkipped > 0 || counts[TaskStatusNotStarted] > 0 || counts[TaskStatusRunning] > 0 {
		return JobStatusPartiallyCompleted
	}
	return JobStatusCompleted
}
