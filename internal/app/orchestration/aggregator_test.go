package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/internal/infra/storage/audit/memory"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

type fakeSynthesizer struct {
	mu      sync.Mutex
	calls   int
	missing []string
	result  audit.Result
	err     error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _ *audit.Job, _ map[string]audit.Result, missing []string) (audit.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.missing = missing
	return f.result, f.err
}

func (f *fakeSynthesizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func synthSpecs() []audit.TaskSpec {
	return []audit.TaskSpec{
		{ID: "a", DisplayName: "A", Required: true},
		{ID: "b", DisplayName: "B", Required: true},
		{ID: "report", DisplayName: "Report", DependsOn: []string{"a", "b"}, Synthesis: true},
	}
}

func newTestAggregator(results audit.ResultStore, synth audit.ReportSynthesizer, publisher audit.ProgressPublisher) *Aggregator {
	return NewAggregator(results, synth, publisher, nil, time.Minute,
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func markSucceeded(t *testing.T, set *audit.TaskSet, id string) {
	t.Helper()
	require.NoError(t, set.WithTask(id, func(task *audit.Task) error {
		if _, err := task.StartAttempt(time.Now()); err != nil {
			return err
		}
		return task.Succeed(time.Now())
	}))
}

func markFailed(t *testing.T, set *audit.TaskSet, id string) {
	t.Helper()
	require.NoError(t, set.WithTask(id, func(task *audit.Task) error {
		if _, err := task.StartAttempt(time.Now()); err != nil {
			return err
		}
		return task.Fail(time.Now(), audit.FailurePermanent, "boom")
	}))
}

func TestAggregatorSynthesizesReport(t *testing.T) {
	ctx := context.Background()
	job, set := newJobAndSet(t, synthSpecs(), 1)

	results := memory.NewResultStore()
	for _, id := range []string{"a", "b"} {
		markSucceeded(t, set, id)
		require.NoError(t, results.Put(ctx, job.JobID(), id, audit.Result(`{"ok":true}`)))
	}

	synth := &fakeSynthesizer{result: audit.Result(`{"executive_summary":"fine"}`)}
	agg := newTestAggregator(results, synth, &eventRecorder{})

	status, err := agg.Finalize(ctx, job, set, false, false)
	require.NoError(t, err)
	assert.Equal(t, audit.JobStatusCompleted, status)
	assert.Equal(t, 1, synth.callCount())
	assert.Empty(t, synth.missing)
	assert.Equal(t, audit.TaskStatusSucceeded, taskStatus(t, set, "report"))

	stored, err := results.Get(ctx, job.JobID(), "report")
	require.NoError(t, err)
	assert.JSONEq(t, `{"executive_summary":"fine"}`, string(stored))
}

func TestAggregatorFinalizesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	job, set := newJobAndSet(t, synthSpecs(), 1)

	results := memory.NewResultStore()
	for _, id := range []string{"a", "b"} {
		markSucceeded(t, set, id)
		require.NoError(t, results.Put(ctx, job.JobID(), id, audit.Result(`{}`)))
	}

	synth := &fakeSynthesizer{result: audit.Result(`{}`)}
	agg := newTestAggregator(results, synth, &eventRecorder{})

	const callers = 4
	statuses := make([]audit.JobStatus, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, err := agg.Finalize(ctx, job, set, false, false)
			assert.NoError(t, err)
			statuses[i] = status
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, synth.callCount(), "synthesis runs once no matter how many callers race")
	for _, status := range statuses {
		assert.Equal(t, audit.JobStatusCompleted, status)
	}
}

func TestAggregatorSkipsSynthesisWhenCancelled(t *testing.T) {
	ctx := context.Background()
	job, set := newJobAndSet(t, synthSpecs(), 1)

	results := memory.NewResultStore()
	markSucceeded(t, set, "a")
	require.NoError(t, results.Put(ctx, job.JobID(), "a", audit.Result(`{}`)))
	markFailed(t, set, "b")

	synth := &fakeSynthesizer{result: audit.Result(`{}`)}
	agg := newTestAggregator(results, synth, &eventRecorder{})

	status, err := agg.Finalize(ctx, job, set, false, true)
	require.NoError(t, err)
	assert.Equal(t, audit.JobStatusCancelled, status)
	assert.Equal(t, 0, synth.callCount())
	assert.Equal(t, audit.TaskStatusSkipped, taskStatus(t, set, "report"))

	task, _ := set.Task("report")
	assert.Contains(t, task.SkipReason(), "cancelled")
}

func TestAggregatorSkipsSynthesisWithoutResults(t *testing.T) {
	ctx := context.Background()
	job, set := newJobAndSet(t, synthSpecs(), 1)
	markFailed(t, set, "a")
	markFailed(t, set, "b")

	synth := &fakeSynthesizer{result: audit.Result(`{}`)}
	agg := newTestAggregator(memory.NewResultStore(), synth, &eventRecorder{})

	status, err := agg.Finalize(ctx, job, set, false, false)
	require.NoError(t, err)
	assert.Equal(t, audit.JobStatusFailed, status)
	assert.Equal(t, 0, synth.callCount())
	assert.Equal(t, audit.TaskStatusSkipped, taskStatus(t, set, "report"))
}

func TestAggregatorNamesMissingRequiredTasks(t *testing.T) {
	ctx := context.Background()
	job, set := newJobAndSet(t, synthSpecs(), 1)

	results := memory.NewResultStore()
	markSucceeded(t, set, "a")
	require.NoError(t, results.Put(ctx, job.JobID(), "a", audit.Result(`{}`)))
	markFailed(t, set, "b")

	synth := &fakeSynthesizer{result: audit.Result(`{}`)}
	agg := newTestAggregator(results, synth, &eventRecorder{})

	status, err := agg.Finalize(ctx, job, set, false, false)
	require.NoError(t, err)
	assert.Equal(t, audit.JobStatusPartiallyCompleted, status)
	assert.Equal(t, []string{"b"}, synth.missing)
	assert.Equal(t, audit.TaskStatusSucceeded, taskStatus(t, set, "report"))
}

func TestAggregatorSynthesisFailureKeepsJobOutcome(t *testing.T) {
	ctx := context.Background()
	job, set := newJobAndSet(t, synthSpecs(), 1)

	results := memory.NewResultStore()
	for _, id := range []string{"a", "b"} {
		markSucceeded(t, set, id)
		require.NoError(t, results.Put(ctx, job.JobID(), id, audit.Result(`{}`)))
	}

	synth := &fakeSynthesizer{err: audit.NewFailure(audit.FailurePermanent, errors.New("model rejected the prompt"))}
	agg := newTestAggregator(results, synth, &eventRecorder{})

	status, err := agg.Finalize(ctx, job, set, false, false)
	require.NoError(t, err)
	assert.Equal(t, audit.JobStatusCompleted, status, "a failed report never degrades the job outcome")
	assert.Equal(t, audit.TaskStatusFailed, taskStatus(t, set, "report"))

	task, _ := set.Task("report")
	assert.Equal(t, audit.FailurePermanent, task.LastFailureKind())
}
