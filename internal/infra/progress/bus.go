// Package progress provides the in-process progress event stream: a per-job
// bus that replays a snapshot of the latest state per task to new subscribers
// before delivering live updates.
package progress

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity. A consumer
// that falls this far behind starts losing events rather than stalling the
// scheduler.
const DefaultSubscriberBuffer = 256

// subscriber is one attached consumer of a job's stream.
type subscriber struct {
	ch     chan audit.ProgressEvent
	closed bool
}

// jobStream holds the state of one job's progress stream: the latest event
// per task (the snapshot source) and the attached subscribers.
type jobStream struct {
	closed  bool
	order   []string
	latest  map[string]audit.ProgressEvent
	subs    map[*subscriber]struct{}
	dropped int
}

// Bus is an in-memory progress bus. Publishing never blocks on consumers;
// each subscriber owns a buffered channel and slow subscribers lose events.
type Bus struct {
	bufferSize int
	logger     *logger.Logger

	mu   sync.Mutex
	jobs map[uuid.UUID]*jobStream
}

// NewBus creates a progress bus. bufferSize <= 0 selects the default.
func NewBus(bufferSize int, logger *logger.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Bus{
		bufferSize: bufferSize,
		logger:     logger.With("component", "progress_bus"),
		jobs:       make(map[uuid.UUID]*jobStream),
	}
}

// Publish records the event as the task's latest state and fans it out to all
// subscribers of the job. Publishing to a closed stream is a no-op.
func (b *Bus) Publish(ctx context.Context, event audit.ProgressEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream := b.stream(event.JobID)
	if stream.closed {
		return nil
	}

	if _, seen := stream.latest[event.TaskID]; !seen {
		stream.order = append(stream.order, event.TaskID)
	}
	stream.latest[event.TaskID] = event

	for sub := range stream.subs {
		select {
		case sub.ch <- event:
		default:
			stream.dropped++
			b.logger.Debug(ctx, "subscriber buffer full, event dropped",
				"job_id", event.JobID, "task_id", event.TaskID, "dropped_total", stream.dropped)
		}
	}
	return nil
}

// Subscribe attaches a consumer to the job's stream. The returned channel
// first yields the latest known event of every task, then live updates. It is
// closed when the job's stream closes or ctx is done. Subscribing to an
// already closed stream yields the snapshot and an immediately closed channel.
func (b *Bus) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan audit.ProgressEvent, error) {
	b.mu.Lock()

	stream := b.stream(jobID)
	snapshot := make([]audit.ProgressEvent, 0, len(stream.order))
	for _, taskID := range stream.order {
		snapshot = append(snapshot, stream.latest[taskID])
	}

	sub := &subscriber{ch: make(chan audit.ProgressEvent, b.bufferSize+len(snapshot))}
	for _, event := range snapshot {
		sub.ch <- event
	}

	if stream.closed {
		close(sub.ch)
		sub.closed = true
		b.mu.Unlock()
		return sub.ch, nil
	}

	stream.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(jobID, sub)
	}()

	return sub.ch, nil
}

// CloseJob ends the job's live stream. Subscriber channels are closed after
// any buffered events; the snapshot stays available for late subscribers.
func (b *Bus) CloseJob(jobID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream, ok := b.jobs[jobID]
	if !ok {
		stream = b.stream(jobID)
	}
	if stream.closed {
		return
	}
	stream.closed = true

	for sub := range stream.subs {
		if !sub.closed {
			close(sub.ch)
			sub.closed = true
		}
	}
	stream.subs = make(map[*subscriber]struct{})
}

// Forget drops all stream state of a job, snapshot included.
func (b *Bus) Forget(jobID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.jobs, jobID)
}

func (b *Bus) unsubscribe(jobID uuid.UUID, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream, ok := b.jobs[jobID]
	if !ok {
		return
	}
	if _, attached := stream.subs[sub]; !attached {
		return
	}
	delete(stream.subs, sub)
	if !sub.closed {
		close(sub.ch)
		sub.closed = true
	}
}

// stream returns the job's stream, creating it when first touched. Callers
// hold b.mu.
func (b *Bus) stream(jobID uuid.UUID) *jobStream {
	stream, ok := b.jobs[jobID]
	if !ok {
		stream = &jobStream{
			latest: make(map[string]audit.ProgressEvent),
			subs:   make(map[*subscriber]struct{}),
		}
		b.jobs[jobID] = stream
	}
	return stream
}
