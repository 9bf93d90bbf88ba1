package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/internal/infra/storage/audit/memory"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

type fakeAgent struct {
	id string
	fn func(ctx context.Context, input audit.AgentInput) (audit.Result, error)
}

func (a *fakeAgent) ID() string { return a.id }

func (a *fakeAgent) Execute(ctx context.Context, input audit.AgentInput) (audit.Result, error) {
	return a.fn(ctx, input)
}

type fakeRegistry map[string]audit.AgentTask

func (r fakeRegistry) Get(taskID string) (audit.AgentTask, bool) {
	agent, ok := r[taskID]
	return agent, ok
}

// eventRecorder collects published progress events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []audit.ProgressEvent
}

func (r *eventRecorder) Publish(_ context.Context, event audit.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// transitions returns the To statuses published for one task, in order.
func (r *eventRecorder) transitions(taskID string) []audit.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []audit.TaskStatus
	for _, event := range r.events {
		if event.TaskID == taskID {
			out = append(out, event.To)
		}
	}
	return out
}

func newTestScheduler(registry AgentRegistry, results audit.ResultStore, publisher audit.ProgressPublisher, maxAttempts int) *Scheduler {
	policy := NewRetryPolicy(maxAttempts, time.Millisecond, 10*time.Millisecond)
	return NewScheduler(
		registry,
		results,
		publisher,
		nil,
		policy,
		4,
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)
}

func newJobAndSet(t *testing.T, specs []audit.TaskSpec, maxAttempts int) (*audit.Job, *audit.TaskSet) {
	t.Helper()
	job := audit.NewJob(uuid.New(), "https://example.com", audit.ModeQuick)
	set, err := audit.NewTaskSet(job.JobID(), specs, maxAttempts)
	require.NoError(t, err)
	return job, set
}

func taskStatus(t *testing.T, set *audit.TaskSet, id string) audit.TaskStatus {
	t.Helper()
	task, ok := set.Task(id)
	require.True(t, ok)
	return task.Status()
}

func TestSchedulerRunsDependencyChain(t *testing.T) {
	specs := []audit.TaskSpec{
		{ID: "a", DisplayName: "A", Required: true},
		{ID: "b", DisplayName: "B", DependsOn: []string{"a"}, Required: true},
	}
	job, set := newJobAndSet(t, specs, 3)

	results := memory.NewResultStore()
	recorder := &eventRecorder{}

	registry := fakeRegistry{
		"a": &fakeAgent{id: "a", fn: func(_ context.Context, input audit.AgentInput) (audit.Result, error) {
			assert.Equal(t, job.JobID(), input.JobID)
			assert.Equal(t, "https://example.com", input.TargetURL)
			return audit.Result(`{"from":"a"}`), nil
		}},
		"b": &fakeAgent{id: "b", fn: func(_ context.Context, input audit.AgentInput) (audit.Result, error) {
			assert.JSONEq(t, `{"from":"a"}`, string(input.Dependencies["a"]), "dependent receives the upstream result")
			return audit.Result(`{"from":"b"}`), nil
		}},
	}

	s := newTestScheduler(registry, results, recorder, 3)
	require.NoError(t, s.Run(context.Background(), job, set))

	assert.Equal(t, audit.TaskStatusSucceeded, taskStatus(t, set, "a"))
	assert.Equal(t, audit.TaskStatusSucceeded, taskStatus(t, set, "b"))

	stored, err := results.Get(context.Background(), job.JobID(), "b")
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"b"}`, string(stored))

	assert.Equal(t,
		[]audit.TaskStatus{audit.TaskStatusRunning, audit.TaskStatusSucceeded},
		recorder.transitions("b"))
}

func TestSchedulerDoesNotRetryPermanentFailure(t *testing.T) {
	specs := []audit.TaskSpec{{ID: "a", DisplayName: "A", Required: true}}
	job, set := newJobAndSet(t, specs, 3)

	var calls atomic.Int32
	registry := fakeRegistry{
		"a": &fakeAgent{id: "a", fn: func(context.Context, audit.AgentInput) (audit.Result, error) {
			calls.Add(1)
			return nil, audit.NewFailure(audit.FailurePermanent, errors.New("target returned 404"))
		}},
	}

	s := newTestScheduler(registry, memory.NewResultStore(), &eventRecorder{}, 3)
	require.NoError(t, s.Run(context.Background(), job, set))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, audit.TaskStatusFailed, taskStatus(t, set, "a"))

	task, _ := set.Task("a")
	assert.Equal(t, audit.FailurePermanent, task.LastFailureKind())
	assert.Contains(t, task.LastError(), "404")
}

func TestSchedulerRetriesTransientFailure(t *testing.T) {
	specs := []audit.TaskSpec{{ID: "a", DisplayName: "A", Required: true}}
	job, set := newJobAndSet(t, specs, 3)

	recorder := &eventRecorder{}
	var calls atomic.Int32
	registry := fakeRegistry{
		"a": &fakeAgent{id: "a", fn: func(context.Context, audit.AgentInput) (audit.Result, error) {
			if calls.Add(1) == 1 {
				return nil, audit.NewFailure(audit.FailureTransient, errors.New("remote returned 503"))
			}
			return audit.Result(`{"ok":true}`), nil
		}},
	}

	s := newTestScheduler(registry, memory.NewResultStore(), recorder, 3)
	require.NoError(t, s.Run(context.Background(), job, set))

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, audit.TaskStatusSucceeded, taskStatus(t, set, "a"))
	assert.Equal(t,
		[]audit.TaskStatus{
			audit.TaskStatusRunning, audit.TaskStatusFailed,
			audit.TaskStatusRunning, audit.TaskStatusSucceeded,
		},
		recorder.transitions("a"))
}

func TestSchedulerSkipsDependentsOfFailedTask(t *testing.T) {
	specs := []audit.TaskSpec{
		{ID: "a", DisplayName: "A", Required: true},
		{ID: "b", DisplayName: "B", DependsOn: []string{"a"}, Required: true},
		{ID: "c", DisplayName: "C", DependsOn: []string{"b"}},
	}
	job, set := newJobAndSet(t, specs, 1)

	var bCalls atomic.Int32
	registry := fakeRegistry{
		"a": &fakeAgent{id: "a", fn: func(context.Context, audit.AgentInput) (audit.Result, error) {
			return nil, audit.NewFailure(audit.FailurePermanent, errors.New("boom"))
		}},
		"b": &fakeAgent{id: "b", fn: func(context.Context, audit.AgentInput) (audit.Result, error) {
			bCalls.Add(1)
			return audit.Result(`{}`), nil
		}},
		"c": &fakeAgent{id: "c", fn: func(context.Context, audit.AgentInput) (audit.Result, error) {
			return audit.Result(`{}`), nil
		}},
	}

	s := newTestScheduler(registry, memory.NewResultStore(), &eventRecorder{}, 1)
	require.NoError(t, s.Run(context.Background(), job, set))

	assert.Equal(t, audit.TaskStatusFailed, taskStatus(t, set, "a"))
	assert.Equal(t, audit.TaskStatusSkipped, taskStatus(t, set, "b"))
	assert.Equal(t, audit.TaskStatusSkipped, taskStatus(t, set, "c"), "the skip cascades down the chain")
	assert.Equal(t, int32(0), bCalls.Load())

	task, _ := set.Task("b")
	assert.Contains(t, task.SkipReason(), "a")
}

func TestSchedulerFailsTaskWithoutAgent(t *testing.T) {
	specs := []audit.TaskSpec{{ID: "a", DisplayName: "A", Required: true}}
	job, set := newJobAndSet(t, specs, 3)

	s := newTestScheduler(fakeRegistry{}, memory.NewResultStore(), &eventRecorder{}, 3)
	require.NoError(t, s.Run(context.Background(), job, set))

	assert.Equal(t, audit.TaskStatusFailed, taskStatus(t, set, "a"))

	task, _ := set.Task("a")
	assert.Equal(t, audit.FailureInternal, task.LastFailureKind())
	assert.Contains(t, task.LastError(), "no agent registered")
}

func TestSchedulerSkipsUnstartedOnCancelledContext(t *testing.T) {
	specs := []audit.TaskSpec{
		{ID: "a", DisplayName: "A", Required: true},
		{ID: "b", DisplayName: "B", DependsOn: []string{"a"}, Required: true},
	}
	job, set := newJobAndSet(t, specs, 3)

	registry := fakeRegistry{
		"a": &fakeAgent{id: "a", fn: func(context.Context, audit.AgentInput) (audit.Result, error) {
			return audit.Result(`{}`), nil
		}},
		"b": &fakeAgent{id: "b", fn: func(context.Context, audit.AgentInput) (audit.Result, error) {
			return audit.Result(`{}`), nil
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScheduler(registry, memory.NewResultStore(), &eventRecorder{}, 3)
	require.NoError(t, s.Run(ctx, job, set))

	for _, id := range []string{"a", "b"} {
		assert.Equal(t, audit.TaskStatusSkipped, taskStatus(t, set, id))
		task, _ := set.Task(id)
		assert.Contains(t, task.SkipReason(), "cancelled")
	}
}

func TestSchedulerJobDeadlineCutsOffRunningAndUnstartedTasks(t *testing.T) {
	specs := []audit.TaskSpec{
		{ID: "fast", DisplayName: "Fast", Required: true},
		{ID: "hang", DisplayName: "Hang", Required: true},
		{ID: "late", DisplayName: "Late", DependsOn: []string{"hang"}, Required: true},
	}
	job, set := newJobAndSet(t, specs, 3)

	registry := fakeRegistry{
		"fast": &fakeAgent{id: "fast", fn: func(context.Context, audit.AgentInput) (audit.Result, error) {
			return audit.Result(`{"ok":true}`), nil
		}},
		"hang": &fakeAgent{id: "hang", fn: func(ctx context.Context, _ audit.AgentInput) (audit.Result, error) {
			<-ctx.Done()
			// Linger past the cutoff so the dependent observes the expired
			// job context, not this task's failure.
			time.Sleep(200 * time.Millisecond)
			return nil, ctx.Err()
		}},
		"late": &fakeAgent{id: "late", fn: func(context.Context, audit.AgentInput) (audit.Result, error) {
			return audit.Result(`{}`), nil
		}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := newTestScheduler(registry, memory.NewResultStore(), &eventRecorder{}, 3)
	require.NoError(t, s.Run(ctx, job, set))

	assert.Equal(t, audit.TaskStatusSucceeded, taskStatus(t, set, "fast"))
	assert.Equal(t, audit.TaskStatusFailed, taskStatus(t, set, "hang"))
	assert.Equal(t, audit.TaskStatusSkipped, taskStatus(t, set, "late"))

	hang, _ := set.Task("hang")
	assert.Equal(t, audit.FailureCancelled, hang.LastFailureKind(), "failures after the cutoff are not retried")
	assert.Len(t, hang.Attempts(), 1)

	late, _ := set.Task("late")
	assert.Contains(t, late.SkipReason(), "deadline")

	final := audit.ComputeFinalStatus(set.CountByStatus(), true, false)
	assert.Equal(t, audit.JobStatusPartiallyCompleted, final, "one success under the deadline keeps partial results")
}

func TestSchedulerPersistsTaskStates(t *testing.T) {
	specs := []audit.TaskSpec{{ID: "a", DisplayName: "A", Required: true}}
	job, set := newJobAndSet(t, specs, 3)

	taskRepo := memory.NewTaskStore()
	require.NoError(t, taskRepo.CreateTasks(context.Background(), job.JobID(), specs))

	registry := fakeRegistry{
		"a": &fakeAgent{id: "a", fn: func(context.Context, audit.AgentInput) (audit.Result, error) {
			return audit.Result(`{}`), nil
		}},
	}

	policy := NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond)
	s := NewScheduler(registry, memory.NewResultStore(), &eventRecorder{}, taskRepo, policy, 4,
		logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, s.Run(context.Background(), job, set))

	states, err := taskRepo.ListTaskStates(context.Background(), job.JobID())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, audit.TaskStatusSucceeded, states[0].Status)
	assert.Equal(t, 1, states[0].Attempts)
}
