package orchestration

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
)

func TestNewRetryPolicyFallsBackToDefaults(t *testing.T) {
	policy := NewRetryPolicy(0, 0, -time.Second)
	assert.Equal(t, DefaultMaxAttempts, policy.MaxAttempts())

	policy = NewRetryPolicy(5, time.Second, time.Minute)
	assert.Equal(t, 5, policy.MaxAttempts())
}

func TestRetryDecide(t *testing.T) {
	policy := NewRetryPolicy(3, 10*time.Millisecond, 100*time.Millisecond)
	now := time.Now()
	farDeadline := now.Add(time.Hour)

	tests := []struct {
		name     string
		kind     audit.FailureKind
		attempt  int
		backoff  backoff.BackOff
		deadline time.Time
		want     bool
	}{
		{
			name:     "transient failure with budget left retries",
			kind:     audit.FailureTransient,
			attempt:  1,
			backoff:  policy.NewBackOff(),
			deadline: farDeadline,
			want:     true,
		},
		{
			name:     "timeout failure retries",
			kind:     audit.FailureTimeout,
			attempt:  2,
			backoff:  policy.NewBackOff(),
			deadline: farDeadline,
			want:     true,
		},
		{
			name:     "permanent failure never retries",
			kind:     audit.FailurePermanent,
			attempt:  1,
			backoff:  policy.NewBackOff(),
			deadline: farDeadline,
			want:     false,
		},
		{
			name:     "cancellation never retries",
			kind:     audit.FailureCancelled,
			attempt:  1,
			backoff:  policy.NewBackOff(),
			deadline: farDeadline,
			want:     false,
		},
		{
			name:     "attempt budget exhausted",
			kind:     audit.FailureTransient,
			attempt:  3,
			backoff:  policy.NewBackOff(),
			deadline: farDeadline,
			want:     false,
		},
		{
			name:     "exhausted backoff source declines",
			kind:     audit.FailureTransient,
			attempt:  1,
			backoff:  &backoff.StopBackOff{},
			deadline: farDeadline,
			want:     false,
		},
		{
			name:     "delay past the job deadline declines",
			kind:     audit.FailureTransient,
			attempt:  1,
			backoff:  policy.NewBackOff(),
			deadline: now.Add(time.Millisecond),
			want:     false,
		},
		{
			name:    "zero deadline places no bound",
			kind:    audit.FailureTransient,
			attempt: 1,
			backoff: policy.NewBackOff(),
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := policy.Decide(tt.kind, tt.attempt, tt.backoff, now, tt.deadline)
			assert.Equal(t, tt.want, decision.Retry)
			if tt.want {
				assert.Greater(t, decision.Delay, time.Duration(0))
			} else {
				assert.NotEmpty(t, decision.Reason)
			}
		})
	}
}

func TestRetryBackOffGrowsPerTask(t *testing.T) {
	policy := NewRetryPolicy(5, 10*time.Millisecond, time.Second)

	bo := policy.NewBackOff()
	first := bo.NextBackOff()
	second := bo.NextBackOff()

	// Jitter keeps exact values unpredictable, but the second delay must come
	// from a doubled base.
	assert.Greater(t, second, first)

	fresh := policy.NewBackOff()
	assert.LessOrEqual(t, fresh.NextBackOff(), 12*time.Millisecond, "a new source starts from the initial interval")
}
