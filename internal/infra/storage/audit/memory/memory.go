// Package memory provides in-memory implementations of the audit persistence
// ports for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
)

var _ audit.JobRepository = (*JobStore)(nil)

// JobStore provides an in-memory implementation of audit.JobRepository.
type JobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*audit.Job
}

// NewJobStore creates a new in-memory job repository.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]*audit.Job)}
}

// CreateJob stores a deep copy of the job.
func (s *JobStore) CreateJob(ctx context.Context, job *audit.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID()]; exists {
		return fmt.Errorf("job already exists: %s", job.JobID())
	}
	s.jobs[job.JobID()] = copyJob(job)
	return nil
}

// UpdateJob replaces the stored copy of the job.
func (s *JobStore) UpdateJob(ctx context.Context, job *audit.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID()]; !exists {
		return fmt.Errorf("%w: %s", audit.ErrJobNotFound, job.JobID())
	}
	s.jobs[job.JobID()] = copyJob(job)
	return nil
}

// GetJob returns a copy of the stored job.
func (s *JobStore) GetJob(ctx context.Context, jobID uuid.UUID) (*audit.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
	}
	return copyJob(job), nil
}

// copyJob rebuilds an independent job aggregate so callers cannot mutate the
// stored state.
func copyJob(job *audit.Job) *audit.Job {
	return job.Clone()
}

var _ audit.TaskRepository = (*TaskStore)(nil)

// TaskStore provides an in-memory implementation of audit.TaskRepository.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]map[string]audit.TaskStateView
	order map[uuid.UUID][]string
}

// NewTaskStore creates a new in-memory task state repository.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[uuid.UUID]map[string]audit.TaskStateView),
		order: make(map[uuid.UUID][]string),
	}
}

// CreateTasks records the initial NOT_STARTED state of every spec.
func (s *TaskStore) CreateTasks(ctx context.Context, jobID uuid.UUID, specs []audit.TaskSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[jobID]; exists {
		return fmt.Errorf("tasks already exist for job: %s", jobID)
	}

	states := make(map[string]audit.TaskStateView, len(specs))
	order := make([]string, 0, len(specs))
	for _, spec := range specs {
		states[spec.ID] = audit.TaskStateView{
			TaskID:      spec.ID,
			DisplayName: spec.DisplayName,
			Status:      audit.TaskStatusNotStarted,
		}
		order = append(order, spec.ID)
	}
	s.tasks[jobID] = states
	s.order[jobID] = order
	return nil
}

// UpdateTaskState replaces the stored state view of one task.
func (s *TaskStore) UpdateTaskState(ctx context.Context, jobID uuid.UUID, state audit.TaskStateView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, ok := s.tasks[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
	}
	if _, ok := states[state.TaskID]; !ok {
		return fmt.Errorf("%w: %s/%s", audit.ErrTaskNotFound, jobID, state.TaskID)
	}
	states[state.TaskID] = state
	return nil
}

// ListTaskStates returns every task state of a job in creation order.
func (s *TaskStore) ListTaskStates(ctx context.Context, jobID uuid.UUID) ([]audit.TaskStateView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states, ok := s.tasks[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
	}
	out := make([]audit.TaskStateView, 0, len(states))
	for _, id := range s.order[jobID] {
		out = append(out, states[id])
	}
	return out, nil
}

var _ audit.ResultStore = (*ResultStore)(nil)

// ResultStore provides an in-memory implementation of audit.ResultStore.
type ResultStore struct {
	mu      sync.Mutex
	results map[uuid.UUID]map[string]audit.Result
}

// NewResultStore creates a new in-memory result store.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[uuid.UUID]map[string]audit.Result)}
}

// Put stores a copy of the result. A second write for the same (job, task)
// returns ErrDuplicateResult.
func (s *ResultStore) Put(ctx context.Context, jobID uuid.UUID, taskID string, result audit.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTask, ok := s.results[jobID]
	if !ok {
		byTask = make(map[string]audit.Result)
		s.results[jobID] = byTask
	}
	if _, exists := byTask[taskID]; exists {
		return fmt.Errorf("%w: %s/%s", audit.ErrDuplicateResult, jobID, taskID)
	}
	byTask[taskID] = copyResult(result)
	return nil
}

// Get returns a copy of the stored result of one task.
func (s *ResultStore) Get(ctx context.Context, jobID uuid.UUID, taskID string) (audit.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTask, ok := s.results[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", audit.ErrNoResult, jobID, taskID)
	}
	result, ok := byTask[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", audit.ErrNoResult, jobID, taskID)
	}
	return copyResult(result), nil
}

// GetAll returns copies of every stored result of a job keyed by task ID.
func (s *ResultStore) GetAll(ctx context.Context, jobID uuid.UUID) (map[string]audit.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]audit.Result)
	for taskID, result := range s.results[jobID] {
		out[taskID] = copyResult(result)
	}
	return out, nil
}

func copyResult(result audit.Result) audit.Result {
	out := make(audit.Result, len(result))
	copy(out, result)
	return out
}
