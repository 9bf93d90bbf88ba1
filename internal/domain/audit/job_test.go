package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobDeadlineFollowsMode(t *testing.T) {
	quick := NewJob(uuid.New(), "https://example.com", ModeQuick)
	full := NewJob(uuid.New(), "https://example.com", ModeFull)

	assert.Equal(t, JobStatusPending, quick.Status())
	assert.WithinDuration(t, quick.CreatedAt().Add(QuickDeadline), quick.Deadline(), time.Second)
	assert.WithinDuration(t, full.CreatedAt().Add(FullDeadline), full.Deadline(), time.Second)
}

func TestJobLifecycle(t *testing.T) {
	job := NewJob(uuid.New(), "https://example.com", ModeFull)

	_, terminal := job.EndTime()
	assert.False(t, terminal)

	require.NoError(t, job.UpdateStatus(JobStatusRunning))
	require.NoError(t, job.UpdateStatus(JobStatusCompleted))

	end, terminal := job.EndTime()
	assert.True(t, terminal)
	assert.False(t, end.IsZero())

	assert.Error(t, job.UpdateStatus(JobStatusRunning), "terminal status accepts no transitions")
}

func TestJobFailRecordsReason(t *testing.T) {
	job := NewJob(uuid.New(), "https://example.com", ModeFull)
	require.NoError(t, job.UpdateStatus(JobStatusRunning))

	require.NoError(t, job.Fail("scheduler panic"))
	assert.Equal(t, JobStatusFailed, job.Status())
	assert.Equal(t, "scheduler panic", job.FailReason())
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeQuick, ParseMode("quick"))
	assert.Equal(t, ModeFull, ParseMode("full"))
	assert.Equal(t, Mode(""), ParseMode("bogus"))
}
