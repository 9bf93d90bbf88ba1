package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpecs() []TaskSpec {
	return []TaskSpec{
		{ID: "a", DisplayName: "A", Required: true},
		{ID: "b", DisplayName: "B", DependsOn: []string{"a"}, Required: true},
		{ID: "c", DisplayName: "C", DependsOn: []string{"a"}},
		{ID: "report", DisplayName: "Report", DependsOn: []string{"a", "b", "c"}, Synthesis: true},
	}
}

func TestNewTaskSetRejectsDuplicates(t *testing.T) {
	_, err := NewTaskSet(uuid.New(), []TaskSpec{{ID: "a"}, {ID: "a"}}, 1)
	assert.Error(t, err)
}

func TestNewTaskSetRejectsUnknownDependency(t *testing.T) {
	_, err := NewTaskSet(uuid.New(), []TaskSpec{{ID: "a", DependsOn: []string{"ghost"}}}, 1)
	assert.Error(t, err)
}

func TestTaskSetStatesPreservesCatalogOrder(t *testing.T) {
	set, err := NewTaskSet(uuid.New(), testSpecs(), 1)
	require.NoError(t, err)

	states := set.States()
	require.Len(t, states, 4)
	assert.Equal(t, []string{"a", "b", "c", "report"}, []string{
		states[0].TaskID, states[1].TaskID, states[2].TaskID, states[3].TaskID,
	})
	for _, st := range states {
		assert.Equal(t, TaskStatusNotStarted, st.Status)
	}
}

func TestCheckDependencies(t *testing.T) {
	now := time.Now()

	newSet := func(t *testing.T) *TaskSet {
		set, err := NewTaskSet(uuid.New(), testSpecs(), 2)
		require.NoError(t, err)
		return set
	}

	t.Run("pending while dependency has not run", func(t *testing.T) {
		set := newSet(t)
		assert.Equal(t, DepsPending, set.CheckDependencies("b"))
	})

	t.Run("ready once dependency succeeded", func(t *testing.T) {
		set := newSet(t)
		require.NoError(t, set.WithTask("a", func(task *Task) error {
			if _, err := task.StartAttempt(now); err != nil {
				return err
			}
			return task.Succeed(now)
		}))
		assert.Equal(t, DepsReady, set.CheckDependencies("b"))
	})

	t.Run("pending while a failed dependency can still retry", func(t *testing.T) {
		set := newSet(t)
		require.NoError(t, set.WithTask("a", func(task *Task) error {
			if _, err := task.StartAttempt(now); err != nil {
				return err
			}
			return task.Fail(now, FailureTransient, "boom")
		}))
		assert.Equal(t, DepsPending, set.CheckDependencies("b"))
	})

	t.Run("unsatisfiable once the dependency budget is spent", func(t *testing.T) {
		set := newSet(t)
		require.NoError(t, set.WithTask("a", func(task *Task) error {
			for range 2 {
				if _, err := task.StartAttempt(now); err != nil {
					return err
				}
				if err := task.Fail(now, FailureTransient, "boom"); err != nil {
					return err
				}
			}
			return nil
		}))
		assert.Equal(t, DepsUnsatisfiable, set.CheckDependencies("b"))
	})

	t.Run("unsatisfiable when a required dependency was skipped", func(t *testing.T) {
		set := newSet(t)
		require.NoError(t, set.WithTask("a", func(task *Task) error {
			return task.Skip("shutdown")
		}))
		assert.Equal(t, DepsUnsatisfiable, set.CheckDependencies("b"))
	})
}

func TestAllRequiredTerminalIgnoresSynthesisAndOptional(t *testing.T) {
	now := time.Now()
	set, err := NewTaskSet(uuid.New(), testSpecs(), 1)
	require.NoError(t, err)

	assert.False(t, set.AllRequiredTerminal())

	for _, id := range []string{"a", "b"} {
		require.NoError(t, set.WithTask(id, func(task *Task) error {
			if _, err := task.StartAttempt(now); err != nil {
				return err
			}
			return task.Succeed(now)
		}))
	}

	// "c" is optional and "report" is synthesis; neither holds the gate.
	assert.True(t, set.AllRequiredTerminal())
}

func TestCountByStatusExcludesSynthesis(t *testing.T) {
	now := time.Now()
	set, err := NewTaskSet(uuid.New(), testSpecs(), 1)
	require.NoError(t, err)

	require.NoError(t, set.WithTask("a", func(task *Task) error {
		if _, err := task.StartAttempt(now); err != nil {
			return err
		}
		return task.Succeed(now)
	}))

	counts := set.CountByStatus()
	assert.Equal(t, 1, counts[TaskStatusSucceeded])
	assert.Equal(t, 2, counts[TaskStatusNotStarted])
	assert.Equal(t, 3, counts[TaskStatusSucceeded]+counts[TaskStatusNotStarted])
}

func TestComputeFinalStatus(t *testing.T) {
	tests := []struct {
		name      string
		counts    map[TaskStatus]int
		timedOut  bool
		cancelled bool
		want      JobStatus
	}{
		{
			name:   "all succeeded",
			counts: map[TaskStatus]int{TaskStatusSucceeded: 5},
			want:   JobStatusCompleted,
		},
		{
			name:   "some failed with some succeeded",
			counts: map[TaskStatus]int{TaskStatusSucceeded: 3, TaskStatusFailed: 2},
			want:   JobStatusPartiallyCompleted,
		},
		{
			name:   "skipped tasks also make it partial",
			counts: map[TaskStatus]int{TaskStatusSucceeded: 4, TaskStatusSkipped: 1},
			want:   JobStatusPartiallyCompleted,
		},
		{
			name:     "deadline cut off unfinished tasks",
			counts:   map[TaskStatus]int{TaskStatusSucceeded: 2, TaskStatusNotStarted: 3},
			timedOut: true,
			want:     JobStatusPartiallyCompleted,
		},
		{
			name:   "nothing succeeded",
			counts: map[TaskStatus]int{TaskStatusFailed: 5},
			want:   JobStatusFailed,
		},
		{
			name:     "nothing succeeded before the deadline",
			counts:   map[TaskStatus]int{TaskStatusSkipped: 5},
			timedOut: true,
			want:     JobStatusTimedOut,
		},
		{
			name:      "cancellation wins over everything",
			counts:    map[TaskStatus]int{TaskStatusSucceeded: 5},
			cancelled: true,
			want:      JobStatusCancelled,
		},
		{
			name:      "cancellation wins over timeout",
			counts:    map[TaskStatus]int{},
			timedOut:  true,
			cancelled: true,
			want:      JobStatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeFinalStatus(tt.counts, tt.timedOut, tt.cancelled))
		})
	}
}
