package eventbus

import "time"

// Event types published by the executor.
const (
	JobStarted    = "job.started"
	JobCompleted  = "job.completed"
	JobFailed     = "job.failed"
	JobRejected   = "job.rejected"
	TaskCompleted = "task.completed"
	TaskFailed    = "task.failed"
	HealthChanged = "health.changed"
)

// JobEvent is the Data of job.* events.
type JobEvent struct {
	JobID       string
	LogID       string
	ExecutionID string
	Function    string
	Kind        string
	Error       string
	Duration    time.Duration
}

// TaskEvent is the Data of task.* events.
type TaskEvent struct {
	TaskID   string
	Function string
	Error    string
	Duration time.Duration
}

// HealthEvent is the Data of health.changed.
type HealthEvent struct {
	From   string
	To     string
	Issues []string
}
