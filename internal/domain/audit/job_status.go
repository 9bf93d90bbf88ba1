package audit

import (
	"fmt"
)

// JobStatus represents the current state of an audit job. It enables tracking
// of the job lifecycle from creation through one of its terminal outcomes.
type JobStatus string

const (
	// JobStatusPending indicates a job has been created but not yet started.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning indicates a job is actively executing specialist tasks.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusCompleted indicates every required task finished successfully
	// and the report was synthesized.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusPartiallyCompleted indicates some required tasks failed or were
	// skipped, but at least one succeeded and a partial report exists.
	JobStatusPartiallyCompleted JobStatus = "PARTIALLY_COMPLETED"

	// JobStatusFailed indicates no task produced a result, or the orchestration
	// itself hit an unrecoverable error.
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusTimedOut indicates the job deadline elapsed before any task
	// produced a result.
	JobStatusTimedOut JobStatus = "TIMED_OUT"

	// JobStatusCancelled indicates the job was cancelled by an explicit request.
	JobStatusCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether the status is one of the five terminal outcomes.
// A job reaches exactly one terminal status, at most once.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusPartiallyCompleted, JobStatusFailed, JobStatusTimedOut, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseJobStatus converts a string to a JobStatus.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "PENDING":
		return JobStatusPending
	case "RUNNING":
		return JobStatusRunning
	case "COMPLETED":
		return JobStatusCompleted
	case "PARTIALLY_COMPLETED":
		return JobStatusPartiallyCompleted
	case "FAILED":
		return JobStatusFailed
	case "TIMED_OUT":
		return JobStatusTimedOut
	case "CANCELLED":
		return JobStatusCancelled
	default:
		return "" // represents unspecified
	}
}

// validateTransition checks if a status transition is valid and returns an error if not.
func (s JobStatus) validateTransition(target JobStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition checks if the current status can transition to the target status.
// It enforces the job lifecycle rules to prevent invalid state changes.
func (s JobStatus) isValidTransition(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		// A job that is cancelled before it starts still needs a terminal state.
		return target == JobStatusRunning || target == JobStatusCancelled || target == JobStatusFailed
	case JobStatusRunning:
		return target.IsTerminal()
	default:
		// Terminal states - no further transitions allowed.
		return false
	}
}
