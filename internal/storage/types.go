package storage

import (
	"context"
	"errors"
	"time"

	"cronsmith/internal/jobs"
)

var (
	// ErrLogNotRunning rejects finalizing a log that already reached a terminal status.
	ErrLogNotRunning = errors.New("execution log is not running")
	// ErrTaskNotPending rejects starting a task twice.
	ErrTaskNotPending = errors.New("scheduled task is not pending")
	// ErrTaskNotRunning rejects finishing a task that was never started.
	ErrTaskNotRunning = errors.New("scheduled task is not running")
)

// Config configures storage.
//
// Driver values: "memory" (default), "sqlite", "postgres".
type Config struct {
	Driver       string
	Path         string // sqlite
	DSN          string // postgres
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// Store is the persistence API used by the executor, health monitor and work functions.
//
// Lookups of missing rows return *jobs.NotFoundError. Backend failures are
// returned as *jobs.StorageError.
type Store interface {
	CreateJob(ctx context.Context, j jobs.CronJob) error
	GetJob(ctx context.Context, id string) (jobs.CronJob, error)
	// ListJobs returns every job, newest first.
	ListJobs(ctx context.Context) ([]jobs.CronJob, error)
	UpdateJob(ctx context.Context, j jobs.CronJob) error
	DeleteJob(ctx context.Context, id string) error
	// ListDueJobs returns enabled jobs with next_run_at <= now, earliest first.
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]jobs.CronJob, error)

	CreateLog(ctx context.Context, l jobs.ExecutionLog) error
	GetLog(ctx context.Context, id string) (jobs.ExecutionLog, error)
	// FinishLog writes the terminal fields of a running log. Any other state yields ErrLogNotRunning.
	FinishLog(ctx context.Context, l jobs.ExecutionLog) error
	// ListLogs returns logs newest first. An empty jobID lists across all jobs; limit <= 0 means no limit.
	ListLogs(ctx context.Context, jobID string, limit int) ([]jobs.ExecutionLog, error)
	DeleteJobLogs(ctx context.Context, jobID string) (int64, error)
	// PruneLogs removes terminal logs started before the cutoff.
	PruneLogs(ctx context.Context, before time.Time) (int64, error)

	CreateTask(ctx context.Context, t jobs.ScheduledTask) error
	GetTask(ctx context.Context, id string) (jobs.ScheduledTask, error)
	// StartTask moves a pending task to running.
	StartTask(ctx context.Context, id string, at time.Time) (jobs.ScheduledTask, error)
	// FinishTask writes the terminal fields of a running task.
	FinishTask(ctx context.Context, t jobs.ScheduledTask) error
	// ListDueTasks returns pending tasks scheduled at or before now, by priority then time.
	ListDueTasks(ctx context.Context, now time.Time, limit int) ([]jobs.ScheduledTask, error)

	SaveContent(ctx context.Context, c jobs.GeneratedContent) error
	ListContent(ctx context.Context, limit int) ([]jobs.GeneratedContent, error)

	Close() error
}
