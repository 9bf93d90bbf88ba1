package audit

import (
	"time"

	"github.com/google/uuid"
)

// ProgressEvent is an ordered, per-task state-transition notification.
// Events for one task are totally ordered by emission; consumers only ever
// observe monotonically advancing state per task. Across tasks no ordering is
// guaranteed.
type ProgressEvent struct {
	JobID     uuid.UUID  `json:"job_id"`
	TaskID    string     `json:"task_id"`
	Timestamp time.Time  `json:"timestamp"`
	From      TaskStatus `json:"from"`
	To        TaskStatus `json:"to"`
	Attempt   int        `json:"attempt,omitempty"`
	Note      string     `json:"note,omitempty"`
}

// NewProgressEvent records a task state transition at the current instant.
func NewProgressEvent(jobID uuid.UUID, taskID string, from, to TaskStatus, attempt int, note string) ProgressEvent {
	return ProgressEvent{
		JobID:     jobID,
		TaskID:    taskID,
		Timestamp: time.Now(),
		From:      from,
		To:        to,
		Attempt:   attempt,
		Note:      note,
	}
}

// OccurredAt returns the emission time of the event.
func (e ProgressEvent) OccurredAt() time.Time { return e.Timestamp }
