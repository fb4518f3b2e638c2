package queue

import (
	"fmt"
	"path/filepath"
	"time"

	"fedipost/internal/config"
	"fedipost/internal/pipeline"
)

// NewQueueFromConfig creates a Queue implementation based on the queue
// config type.
func NewQueueFromConfig(cfg config.QueueConfig, logger pipeline.Logger, clock pipeline.Clock) (Queue, error) {
	settings := DefaultSettings()
	if cfg.MaxAttempts > 0 {
		settings.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffSeconds > 0 {
		settings.InitialBackoff = time.Duration(cfg.BackoffSeconds) * time.Second
	}
	if cfg.FailureRetention != "" {
		retention, err := time.ParseDuration(cfg.FailureRetention)
		if err != nil {
			return nil, fmt.Errorf("parsing failure_retention: %w", err)
		}
		settings.FailureRetention = retention
	}
	if cfg.SweepSchedule != "" {
		settings.SweepSchedule = cfg.SweepSchedule
	}
	if cfg.PollInterval != "" {
		interval, err := time.ParseDuration(cfg.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("parsing poll_interval: %w", err)
		}
		settings.PollInterval = interval
	}

	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite queue")
		}
		return NewSQLiteQueue(filepath.Join(cfg.DataDir, "outbound.db"), logger, clock, settings)
	case "memory":
		return NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
