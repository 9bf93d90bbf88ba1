package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		current TaskStatus
		target  TaskStatus
		wantErr bool
	}{
		{
			name:    "NotStarted to Running is valid",
			current: TaskStatusNotStarted,
			target:  TaskStatusRunning,
		},
		{
			name:    "NotStarted to Skipped is valid",
			current: TaskStatusNotStarted,
			target:  TaskStatusSkipped,
		},
		{
			name:    "Running to Succeeded is valid",
			current: TaskStatusRunning,
			target:  TaskStatusSucceeded,
		},
		{
			name:    "Running to Failed is valid",
			current: TaskStatusRunning,
			target:  TaskStatusFailed,
		},
		{
			name:    "Failed to Running is valid for a new attempt",
			current: TaskStatusFailed,
			target:  TaskStatusRunning,
		},
		{
			name:    "NotStarted to Succeeded is invalid",
			current: TaskStatusNotStarted,
			target:  TaskStatusSucceeded,
			wantErr: true,
		},
		{
			name:    "Running to Skipped is invalid",
			current: TaskStatusRunning,
			target:  TaskStatusSkipped,
			wantErr: true,
		},
		{
			name:    "Succeeded to Running is invalid",
			current: TaskStatusSucceeded,
			target:  TaskStatusRunning,
			wantErr: true,
		},
		{
			name:    "Skipped to Running is invalid",
			current: TaskStatusSkipped,
			target:  TaskStatusRunning,
			wantErr: true,
		},
		{
			name:    "Failed to Skipped is invalid",
			current: TaskStatusFailed,
			target:  TaskStatusSkipped,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.current.validateTransition(tt.target)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.True(t, TaskStatusSucceeded.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.True(t, TaskStatusSkipped.IsTerminal())
	assert.False(t, TaskStatusNotStarted.IsTerminal())
	assert.False(t, TaskStatusRunning.IsTerminal())
}
