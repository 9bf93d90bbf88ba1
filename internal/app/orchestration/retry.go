// Package orchestration coordinates the execution of audit jobs: scheduling
// specialist tasks, retrying transient failures, aggregating results, and
// triggering report synthesis exactly once per job.
package orchestration

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
)

// Defaults for the retry policy when no configuration is provided.
const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 2 * time.Second
	DefaultMaxInterval     = 30 * time.Second

	defaultMultiplier          = 2.0
	defaultRandomizationFactor = 0.2
)

// RetryPolicy decides whether a failed task attempt gets another try and how
// long to wait before it. Delays grow exponentially with jitter; a retry is
// never scheduled past the job deadline.
type RetryPolicy struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewRetryPolicy creates a retry policy with the given attempt budget and
// delay bounds. Out-of-range values fall back to the defaults.
func NewRetryPolicy(maxAttempts int, initialInterval, maxInterval time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if initialInterval <= 0 {
		initialInterval = DefaultInitialInterval
	}
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}
	return &RetryPolicy{
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
		maxInterval:     maxInterval,
	}
}

// DefaultRetryPolicy returns the policy used when nothing is configured:
// three attempts with a 2s base delay doubling up to 30s.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(DefaultMaxAttempts, DefaultInitialInterval, DefaultMaxInterval)
}

// MaxAttempts returns the per-task attempt budget.
func (p *RetryPolicy) MaxAttempts() int { return p.maxAttempts }

// NewBackOff returns a fresh backoff source for one task. Each task carries
// its own source so retry delays compound per task, not globally.
func (p *RetryPolicy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialInterval
	b.MaxInterval = p.maxInterval
	b.Multiplier = defaultMultiplier
	b.RandomizationFactor = defaultRandomizationFactor
	// The job deadline bounds total elapsed time, not the backoff source.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// RetryDecision is the outcome of consulting the policy after a failed attempt.
type RetryDecision struct {
	Retry  bool
	Delay  time.Duration
	Reason string
}

// Decide determines whether the task should run again. attempt is the number
// of attempts already made. The decision declines non-retryable failure kinds,
// exhausted budgets, and delays that would push the next attempt past the job
// deadline.
func (p *RetryPolicy) Decide(
	kind audit.FailureKind,
	attempt int,
	b backoff.BackOff,
	now time.Time,
	deadline time.Time,
) RetryDecision {
	if !kind.Retryable() {
		return RetryDecision{Reason: "failure kind " + kind.String() + " is not retryable"}
	}
	if attempt >= p.maxAttempts {
		return RetryDecision{Reason: "attempt budget exhausted"}
	}

	delay := b.NextBackOff()
	if delay == backoff.Stop {
		return RetryDecision{Reason: "backoff exhausted"}
	}
	if !deadline.IsZero() && now.Add(delay).After(deadline) {
		return RetryDecision{Reason: "job deadline would pass before the next attempt"}
	}

	return RetryDecision{Retry: true, Delay: delay}
}
