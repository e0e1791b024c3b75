package jobs

import "time"

// JobType tags what kind of work a cron job performs.
type JobType string

const (
	TypeContentGeneration JobType = "content_generation"
	TypeSEOOptimization   JobType = "seo_optimization"
	TypeCleanup           JobType = "cleanup"
	TypeBackup            JobType = "backup"
	TypeCustom            JobType = "custom"
)

func (t JobType) Valid() bool {
	switch t {
	case TypeContentGeneration, TypeSEOOptimization, TypeCleanup, TypeBackup, TypeCustom:
		return true
	}
	return false
}

// JobStatus is the observed state of a job definition.
type JobStatus string

const (
	JobActive   JobStatus = "active"
	JobInactive JobStatus = "inactive"
	JobPaused   JobStatus = "paused"
	JobError    JobStatus = "error"
)

// StatusFor maps the enabled flag to the status a toggle produces.
func StatusFor(enabled bool) JobStatus {
	if enabled {
		return JobActive
	}
	return JobInactive
}

// LogStatus is the lifecycle state of one execution attempt.
type LogStatus string

const (
	LogPending   LogStatus = "pending"
	LogRunning   LogStatus = "running"
	LogCompleted LogStatus = "completed"
	LogFailed    LogStatus = "failed"
	LogCancelled LogStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s LogStatus) Terminal() bool {
	return s == LogCompleted || s == LogFailed || s == LogCancelled
}

// ErrorKind tags why an execution failed.
type ErrorKind string

const (
	KindNone           ErrorKind = ""
	KindNotFound       ErrorKind = "not_found"
	KindDisabled       ErrorKind = "disabled"
	KindAlreadyRunning ErrorKind = "already_running"
	KindNotRegistered  ErrorKind = "not_registered"
	KindExecution      ErrorKind = "execution"
	KindTimeout        ErrorKind = "timeout"
	KindStorage        ErrorKind = "storage"
)

// CronJob is a persistent recurring-task definition.
//
// Dependencies and Conditions are carried for callers but never evaluated.
type CronJob struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	CronExpression  string         `json:"cron_expression"`
	JobType         JobType        `json:"job_type"`
	FunctionName    string         `json:"function_name"`
	FunctionPayload map[string]any `json:"function_payload"`
	Enabled         bool           `json:"enabled"`
	Status          JobStatus      `json:"status"`
	RetryCount      int            `json:"retry_count"`
	TimeoutSeconds  int            `json:"timeout_seconds"`
	NextRunAt       *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	Tags            []string       `json:"tags"`
	Dependencies    []string       `json:"dependencies"`
	Conditions      map[string]any `json:"conditions"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Timeout returns the job's execution budget, or def when unset.
func (j CronJob) Timeout(def time.Duration) time.Duration {
	if j.TimeoutSeconds > 0 {
		return time.Duration(j.TimeoutSeconds) * time.Second
	}
	return def
}

// ExecutionLog is one row per execution attempt of a CronJob.
// Created in running state, finalized exactly once, never mutated afterwards.
type ExecutionLog struct {
	ID           string         `json:"id"`
	CronJobID    string         `json:"cron_job_id"`
	ExecutionID  string         `json:"execution_id"`
	Status       LogStatus      `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	RetryAttempt int            `json:"retry_attempt"`
}

// FinishedAt is CompletedAt when set, StartedAt otherwise.
func (l ExecutionLog) FinishedAt() time.Time {
	if l.CompletedAt != nil && !l.CompletedAt.IsZero() {
		return *l.CompletedAt
	}
	return l.StartedAt
}

// TaskStatus is the lifecycle state of a one-off scheduled task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Priority orders due scheduled tasks; higher runs first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Rank is the numeric order used by stores when sorting due tasks.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

// ScheduledTask is a one-off unit of work for a specific instant. It never recurs.
type ScheduledTask struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	FunctionName    string         `json:"function_name"`
	FunctionPayload map[string]any `json:"function_payload"`
	ScheduledFor    time.Time      `json:"scheduled_for"`
	Priority        Priority       `json:"priority"`
	Status          TaskStatus     `json:"status"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// GeneratedContent is what the content pipeline persists.
type GeneratedContent struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	CronJobID   string         `json:"cron_job_id,omitempty"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
