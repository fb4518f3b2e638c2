package queue

import (
	"context"
	"sync"
	"time"

	"fedipost/internal/pipeline"
)

// MemoryQueue is a non-durable Queue for tests and single-process setups.
// It keeps the idempotency contract: one pending job per id.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]pipeline.OutboundJob
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]pipeline.OutboundJob)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobID string, job pipeline.OutboundJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[jobID] = job
	return nil
}

// Pending returns the queued jobs keyed by id.
func (q *MemoryQueue) Pending() map[string]pipeline.OutboundJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]pipeline.OutboundJob, len(q.jobs))
	for id, job := range q.jobs {
		out[id] = job
	}
	return out
}

// Run drains jobs sequentially until ctx is cancelled. Failed jobs are
// dropped; MemoryQueue does not implement the retry policy.
func (q *MemoryQueue) Run(ctx context.Context, sender Sender) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				_, job, ok := q.take()
				if !ok {
					break
				}
				_ = sender.Send(ctx, job)
			}
		}
	}
}

func (q *MemoryQueue) take() (string, pipeline.OutboundJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, job := range q.jobs {
		delete(q.jobs, id)
		return id, job, true
	}
	return "", pipeline.OutboundJob{}, false
}

func (q *MemoryQueue) Close() error { return nil }
