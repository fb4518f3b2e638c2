package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"fedipost/internal/pipeline"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS outbound_jobs (
    id TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    next_run_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbound_jobs_due ON outbound_jobs (state, next_run_at);
`

// SQLiteQueue is a durable Queue backed by a SQLite jobs table.
type SQLiteQueue struct {
	db       *sql.DB
	logger   pipeline.Logger
	clock    pipeline.Clock
	settings Settings
}

// NewSQLiteQueue opens (or creates) the jobs table on the given database
// path. path can be ":memory:" for tests.
func NewSQLiteQueue(path string, logger pipeline.Logger, clock pipeline.Clock, settings Settings) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(jobsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating jobs table: %w", err)
	}
	if settings.MaxAttempts < 1 {
		settings.MaxAttempts = 1
	}
	return &SQLiteQueue{db: db, logger: logger, clock: clock, settings: settings}, nil
}

// Enqueue inserts a job or, when the id is already queued, replaces it and
// resets its retry state. A replace never produces a second in-flight job.
func (q *SQLiteQueue) Enqueue(ctx context.Context, jobID string, job pipeline.OutboundJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	now := q.clock.Now()
	_, err = q.db.ExecContext(ctx, `
INSERT INTO outbound_jobs (id, payload, state, attempts, next_run_at, updated_at)
VALUES (?, ?, 'pending', 0, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    payload = excluded.payload,
    state = 'pending',
    attempts = 0,
    next_run_at = excluded.next_run_at,
    updated_at = excluded.updated_at`,
		jobID, payload, now, now)
	if err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}
	return nil
}

// Run polls for due jobs and delivers them until ctx is cancelled. The
// retention sweeper runs on its own cron schedule alongside.
func (q *SQLiteQueue) Run(ctx context.Context, sender Sender) error {
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(q.settings.SweepSchedule, func() { q.sweep(ctx) }); err != nil {
		return fmt.Errorf("scheduling retention sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	interval := q.settings.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for q.deliverNext(ctx, sender) {
			}
		}
	}
}

// deliverNext claims and delivers one due job, reporting whether it found
// any work.
func (q *SQLiteQueue) deliverNext(ctx context.Context, sender Sender) bool {
	now := q.clock.Now()
	row := q.db.QueryRowContext(ctx, `
SELECT id, payload, attempts FROM outbound_jobs
WHERE state = 'pending' AND next_run_at <= ?
ORDER BY next_run_at LIMIT 1`, now)

	var id, payload string
	var attempts int
	if err := row.Scan(&id, &payload, &attempts); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			q.logger.Error("claiming outbound job", "error", err)
		}
		return false
	}

	job, err := decodeJob(payload)
	if err != nil {
		q.logger.Error("decoding outbound job", "job", id, "error", err)
		q.park(ctx, id, attempts)
		return true
	}

	if err := sender.Send(ctx, job); err != nil {
		attempts++
		if attempts >= q.settings.MaxAttempts {
			q.logger.Error("outbound job exhausted retries", "job", id, "attempts", attempts, "error", err)
			q.park(ctx, id, attempts)
			return true
		}
		delay := backoffDelay(q.settings.InitialBackoff, attempts)
		q.logger.Warn("outbound delivery failed, will retry", "job", id, "attempt", attempts, "delay", delay, "error", err)
		if _, err := q.db.ExecContext(ctx, `
UPDATE outbound_jobs SET attempts = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
			attempts, q.clock.Now().Add(delay), q.clock.Now(), id); err != nil {
			q.logger.Error("rescheduling outbound job", "job", id, "error", err)
		}
		return true
	}

	// Delivered: the job record is removed entirely.
	if _, err := q.db.ExecContext(ctx, "DELETE FROM outbound_jobs WHERE id = ?", id); err != nil {
		q.logger.Error("removing delivered job", "job", id, "error", err)
	}
	return true
}

// park moves a job to the failed state for later inspection, recording the
// attempt count it went down with.
func (q *SQLiteQueue) park(ctx context.Context, id string, attempts int) {
	if _, err := q.db.ExecContext(ctx,
		"UPDATE outbound_jobs SET state = 'failed', attempts = ?, updated_at = ? WHERE id = ?",
		attempts, q.clock.Now(), id); err != nil {
		q.logger.Error("parking outbound job", "job", id, "error", err)
	}
}

// sweep deletes parked jobs older than the retention window.
func (q *SQLiteQueue) sweep(ctx context.Context) {
	cutoff := q.clock.Now().Add(-q.settings.FailureRetention)
	res, err := q.db.ExecContext(ctx,
		"DELETE FROM outbound_jobs WHERE state = 'failed' AND updated_at < ?", cutoff)
	if err != nil {
		q.logger.Error("sweeping failed jobs", "error", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		q.logger.Info("swept failed outbound jobs", "count", n)
	}
}

func (q *SQLiteQueue) Close() error { return q.db.Close() }
