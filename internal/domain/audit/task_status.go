package audit

import (
	"errors"
	"fmt"
)

// TaskStatus represents the execution state of an individual specialist task.
// It enables fine-grained tracking of task progress and error conditions.
type TaskStatus string

// ErrTaskStatusUnknown is returned when a task status is unknown.
var ErrTaskStatusUnknown = errors.New("task status unknown")

const (
	// TaskStatusNotStarted indicates a task is created but not yet started.
	TaskStatusNotStarted TaskStatus = "NOT_STARTED"

	// TaskStatusRunning indicates an attempt of the task is actively executing.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSucceeded indicates an attempt finished successfully and a
	// result was stored.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed indicates the task exhausted its attempts or hit a
	// non-retryable failure.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusSkipped indicates the task never started because a dependency
	// failed or the job was cancelled/timed out first.
	TaskStatusSkipped TaskStatus = "SKIPPED"

	// TaskStatusUnspecified is used when a task status is unknown.
	TaskStatusUnspecified TaskStatus = "UNSPECIFIED"
)

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string { return string(s) }

// IsTerminal reports whether the status is terminal. Terminal statuses accept
// no further transitions, with the one exception of FAILED -> RUNNING for a
// fresh attempt while the attempt budget lasts (enforced by Task, which also
// checks the budget).
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusSkipped
}

// ParseTaskStatus converts a string to a TaskStatus.
func ParseTaskStatus(s string) TaskStatus {
	switch s {
	case "NOT_STARTED":
		return TaskStatusNotStarted
	case "RUNNING":
		return TaskStatusRunning
	case "SUCCEEDED":
		return TaskStatusSucceeded
	case "FAILED":
		return TaskStatusFailed
	case "SKIPPED":
		return TaskStatusSkipped
	default:
		return TaskStatusUnspecified
	}
}

// validateTransition checks if a status transition is valid and returns an error if not.
func (s TaskStatus) validateTransition(target TaskStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid task status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target status.
// It enforces the task lifecycle rules to prevent invalid state changes.
func (s TaskStatus) isValidTransition(target TaskStatus) bool {
	switch s {
	case TaskStatusNotStarted:
		// Skipped is reachable only from NotStarted.
		return target == TaskStatusRunning || target == TaskStatusSkipped
	case TaskStatusRunning:
		return target == TaskStatusSucceeded || target == TaskStatusFailed
	case TaskStatusFailed:
		// A new attempt while attempts remain; Task enforces the budget.
		return target == TaskStatusRunning
	case TaskStatusSucceeded, TaskStatusSkipped:
		return false
	default:
		return false
	}
}
