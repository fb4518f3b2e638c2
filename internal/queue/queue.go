// Package queue implements the durable outbound-distribution queue feeding
// the federation delivery workers. Jobs are keyed by post id and idempotent:
// enqueueing an id that is already queued replaces the job. Delivery is
// retried with exponential backoff; exhausted jobs are parked in a failed
// state and swept after a bounded retention window.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"fedipost/internal/pipeline"
)

// Sender delivers one outbound job to the federation. Implementations are
// the signed delivery client; the queue only cares about success or failure.
type Sender interface {
	Send(ctx context.Context, job pipeline.OutboundJob) error
}

// Queue extends the pipeline's enqueue-only view with the lifecycle the
// application layer manages.
type Queue interface {
	pipeline.OutboundQueue

	// Run starts the delivery worker and the retention sweeper. It blocks
	// until ctx is cancelled.
	Run(ctx context.Context, sender Sender) error

	// Close releases the queue's resources.
	Close() error
}

// Settings carries the retry and retention policy.
type Settings struct {
	MaxAttempts      int           // delivery attempts before parking; minimum 1
	InitialBackoff   time.Duration // first retry delay, doubled per attempt
	FailureRetention time.Duration // how long parked jobs are kept
	SweepSchedule    string        // cron expression for the retention sweep
	PollInterval     time.Duration // worker poll cadence
}

// DefaultSettings mirrors the distribution policy of the publication
// pipeline: 3 attempts, backoff starting at one second.
func DefaultSettings() Settings {
	return Settings{
		MaxAttempts:      3,
		InitialBackoff:   time.Second,
		FailureRetention: 7 * 24 * time.Hour,
		SweepSchedule:    "@hourly",
		PollInterval:     time.Second,
	}
}

// backoffDelay returns the delay before retry number attempt (1-based).
func backoffDelay(initial time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func encodeJob(job pipeline.OutboundJob) (string, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeJob(payload string) (pipeline.OutboundJob, error) {
	var job pipeline.OutboundJob
	err := json.Unmarshal([]byte(payload), &job)
	return job, err
}
