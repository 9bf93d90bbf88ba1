package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskAttemptLifecycle(t *testing.T) {
	task := NewTask(uuid.New(), TaskSpec{ID: TaskSEO, DisplayName: "SEO"}, 3)
	now := time.Now()

	attempt, err := task.StartAttempt(now)
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)
	assert.Equal(t, TaskStatusRunning, task.Status())

	require.NoError(t, task.Succeed(now))
	assert.Equal(t, TaskStatusSucceeded, task.Status())

	latest, ok := task.LatestAttempt()
	require.True(t, ok)
	assert.Equal(t, AttemptOutcomeSuccess, latest.Outcome())
}

func TestTaskRetryAfterFailure(t *testing.T) {
	task := NewTask(uuid.New(), TaskSpec{ID: TaskSEO}, 2)
	now := time.Now()

	_, err := task.StartAttempt(now)
	require.NoError(t, err)
	require.NoError(t, task.Fail(now, FailureTransient, "remote returned 503"))

	assert.Equal(t, TaskStatusFailed, task.Status())
	assert.True(t, task.CanRetry())
	assert.Equal(t, FailureTransient, task.LastFailureKind())
	assert.Equal(t, "remote returned 503", task.LastError())

	attempt, err := task.StartAttempt(now)
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)

	require.NoError(t, task.Fail(now, FailureTransient, "remote returned 502"))
	assert.False(t, task.CanRetry(), "attempt budget exhausted")

	_, err = task.StartAttempt(now)
	assert.Error(t, err, "starting past the budget must be rejected")
}

func TestTaskCannotSucceedWithoutRunning(t *testing.T) {
	task := NewTask(uuid.New(), TaskSpec{ID: TaskSEO}, 1)
	assert.Error(t, task.Succeed(time.Now()))
}

func TestTaskSkipOnlyBeforeStart(t *testing.T) {
	task := NewTask(uuid.New(), TaskSpec{ID: TaskSEO}, 1)
	require.NoError(t, task.Skip("dependency failed"))
	assert.Equal(t, TaskStatusSkipped, task.Status())
	assert.Equal(t, "dependency failed", task.SkipReason())

	started := NewTask(uuid.New(), TaskSpec{ID: TaskMessaging}, 1)
	_, err := started.StartAttempt(time.Now())
	require.NoError(t, err)
	assert.Error(t, started.Skip("too late"))
}

func TestTaskCancelledFailureRecordsCancelledOutcome(t *testing.T) {
	task := NewTask(uuid.New(), TaskSpec{ID: TaskSEO}, 3)
	now := time.Now()

	_, err := task.StartAttempt(now)
	require.NoError(t, err)
	require.NoError(t, task.Fail(now, FailureCancelled, "job cancelled"))

	latest, ok := task.LatestAttempt()
	require.True(t, ok)
	assert.Equal(t, AttemptOutcomeCancelled, latest.Outcome())
	assert.Equal(t, FailureCancelled, task.LastFailureKind())
}

func TestReconstructTask(t *testing.T) {
	jobID := uuid.New()
	task := ReconstructTask(jobID, TaskSpec{ID: TaskSEO}, TaskStatusSucceeded, 2, "", "", 3, NewTimeline(new(realTimeProvider)))

	assert.Equal(t, jobID, task.JobID())
	assert.Equal(t, TaskStatusSucceeded, task.Status())
	assert.Equal(t, 2, task.AttemptCount())

	latest, ok := task.LatestAttempt()
	require.True(t, ok)
	assert.Equal(t, AttemptOutcomeSuccess, latest.Outcome())
}
