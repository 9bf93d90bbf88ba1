package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode selects how deep an audit goes. A quick audit runs a subset of the
// specialist tasks under a shorter deadline.
type Mode string

const (
	ModeQuick Mode = "quick"
	ModeFull  Mode = "full"
)

// Wall-clock budgets per mode. The job deadline is derived from these at
// creation time.
const (
	QuickDeadline = 15 * time.Minute
	FullDeadline  = 45 * time.Minute
)

func (m Mode) String() string { return string(m) }

// ParseMode converts a string to a Mode. An unrecognized value returns the
// empty Mode.
func ParseMode(s string) Mode {
	switch s {
	case "quick":
		return ModeQuick
	case "full":
		return ModeFull
	default:
		return ""
	}
}

// Duration returns the wall-clock budget for this mode.
func (m Mode) Duration() time.Duration {
	if m == ModeQuick {
		return QuickDeadline
	}
	return FullDeadline
}

// Job coordinates and tracks one end-to-end audit run for a single target URL.
// It provides aggregated status across all child tasks. Job status is owned
// exclusively by the JobManager; all mutation goes through UpdateStatus.
type Job struct {
	jobID       uuid.UUID
	targetURL   string
	companyName string
	mode        Mode
	deadline    time.Time
	status      JobStatus
	failReason  string
	timeline    *Timeline
}

// NewJob creates a new Job for the given target. The deadline is derived from
// the mode's wall-clock budget.
func NewJob(jobID uuid.UUID, targetURL string, mode Mode) *Job {
	timeline := NewTimeline(new(realTimeProvider))
	return &Job{
		jobID:     jobID,
		targetURL: targetURL,
		mode:      mode,
		deadline:  timeline.StartedAt().Add(mode.Duration()),
		status:    JobStatusPending,
		timeline:  timeline,
	}
}

// ReconstructJob creates a Job instance from stored fields, bypassing creation
// invariants. This should only be used by repositories when loading from the DB.
func ReconstructJob(
	jobID uuid.UUID,
	targetURL string,
	companyName string,
	mode Mode,
	deadline time.Time,
	status JobStatus,
	failReason string,
	timeline *Timeline,
) *Job {
	return &Job{
		jobID:       jobID,
		targetURL:   targetURL,
		companyName: companyName,
		mode:        mode,
		deadline:    deadline,
		status:      status,
		failReason:  failReason,
		timeline:    timeline,
	}
}

// Clone returns an independent copy of the job. Readers that outlive the
// caller's synchronization take a clone instead of the live aggregate.
func (j *Job) Clone() *Job {
	timeline := ReconstructTimeline(
		j.timeline.StartedAt(),
		j.timeline.CompletedAt(),
		j.timeline.LastUpdate(),
	)
	return ReconstructJob(j.jobID, j.targetURL, j.companyName, j.mode, j.deadline, j.status, j.failReason, timeline)
}

// JobID returns the unique identifier for this audit job.
func (j *Job) JobID() uuid.UUID { return j.jobID }

// TargetURL returns the company website under audit.
func (j *Job) TargetURL() string { return j.targetURL }

// CompanyName returns the optional display name of the company.
func (j *Job) CompanyName() string { return j.companyName }

// SetCompanyName records the display name, typically discovered by the
// research task after the job was created.
func (j *Job) SetCompanyName(name string) { j.companyName = name }

// Mode returns the audit mode.
func (j *Job) Mode() Mode { return j.mode }

// Deadline returns the wall-clock instant at which the whole job is cut off.
func (j *Job) Deadline() time.Time { return j.deadline }

// Status returns the current execution status of the job.
func (j *Job) Status() JobStatus { return j.status }

// FailReason returns the human-readable reason recorded for a FAILED job.
func (j *Job) FailReason() string { return j.failReason }

// CreatedAt returns when this job was created.
func (j *Job) CreatedAt() time.Time { return j.timeline.StartedAt() }

// EndTime returns when this job reached a terminal status.
// A job only has an end time if it's in a terminal state.
func (j *Job) EndTime() (time.Time, bool) {
	if j.status.IsTerminal() {
		return j.timeline.CompletedAt(), true
	}
	return time.Time{}, false
}

// LastUpdateTime returns when this job's state was last modified.
func (j *Job) LastUpdateTime() time.Time { return j.timeline.LastUpdate() }

// GetTimeline provides access to the job's timeline information.
func (j *Job) GetTimeline() *Timeline { return j.timeline }

// UpdateStatus changes the job's status after validating the transition.
// It returns an error if the transition is not valid.
func (j *Job) UpdateStatus(newStatus JobStatus) error {
	if err := j.status.validateTransition(newStatus); err != nil {
		return err
	}

	if newStatus.IsTerminal() {
		j.timeline.MarkCompleted()
	} else {
		j.timeline.UpdateLastUpdate()
	}

	j.status = newStatus
	return nil
}

// Fail transitions the job to FAILED and records the reason. This is reserved
// for errors in the orchestration itself; individual task failures never fail
// the job directly.
func (j *Job) Fail(reason string) error {
	if err := j.UpdateStatus(JobStatusFailed); err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	j.failReason = reason
	return nil
}
