package jobs

import (
	"strings"
	"time"

	"cronsmith/internal/cronexpr"
)

const (
	DefaultRetryCount     = 3
	DefaultTimeoutSeconds = 300
)

// CreateParams are the inputs of job creation. Pointer fields are optional.
type CreateParams struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	CronExpression  string         `json:"cron_expression"`
	JobType         JobType        `json:"job_type"`
	FunctionName    string         `json:"function_name"`
	FunctionPayload map[string]any `json:"function_payload"`
	Enabled         *bool          `json:"enabled,omitempty"`
	RetryCount      *int           `json:"retry_count,omitempty"`
	TimeoutSeconds  *int           `json:"timeout_seconds,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	Dependencies    []string       `json:"dependencies,omitempty"`
	Conditions      map[string]any `json:"conditions,omitempty"`
}

// Validate checks required fields and the expression grammar.
func (p CreateParams) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "required")
	}
	if strings.TrimSpace(p.FunctionName) == "" {
		return invalid("function_name", "required")
	}
	if err := validateExpression(p.CronExpression); err != nil {
		return err
	}
	if p.JobType != "" && !p.JobType.Valid() {
		return invalid("job_type", "unknown job type %q", p.JobType)
	}
	if p.RetryCount != nil && *p.RetryCount < 0 {
		return invalid("retry_count", "must be >= 0")
	}
	if p.TimeoutSeconds != nil && *p.TimeoutSeconds < 0 {
		return invalid("timeout_seconds", "must be >= 0")
	}
	return nil
}

// Build turns validated params into a new job. ID and NextRunAt are left to the caller.
func (p CreateParams) Build(now time.Time) CronJob {
	j := CronJob{
		Name:            strings.TrimSpace(p.Name),
		Description:     p.Description,
		CronExpression:  normalizeExpression(p.CronExpression),
		JobType:         p.JobType,
		FunctionName:    strings.TrimSpace(p.FunctionName),
		FunctionPayload: p.FunctionPayload,
		Enabled:         true,
		RetryCount:      DefaultRetryCount,
		TimeoutSeconds:  DefaultTimeoutSeconds,
		Tags:            p.Tags,
		Dependencies:    p.Dependencies,
		Conditions:      p.Conditions,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if j.JobType == "" {
		j.JobType = TypeCustom
	}
	if p.Enabled != nil {
		j.Enabled = *p.Enabled
	}
	if p.RetryCount != nil {
		j.RetryCount = *p.RetryCount
	}
	if p.TimeoutSeconds != nil {
		j.TimeoutSeconds = *p.TimeoutSeconds
	}
	if j.FunctionPayload == nil {
		j.FunctionPayload = map[string]any{}
	}
	j.Status = StatusFor(j.Enabled)
	return j
}

// UpdateParams is a partial update; nil fields are left unchanged.
type UpdateParams struct {
	Name            *string         `json:"name,omitempty"`
	Description     *string         `json:"description,omitempty"`
	CronExpression  *string         `json:"cron_expression,omitempty"`
	JobType         *JobType        `json:"job_type,omitempty"`
	FunctionName    *string         `json:"function_name,omitempty"`
	FunctionPayload *map[string]any `json:"function_payload,omitempty"`
	Enabled         *bool           `json:"enabled,omitempty"`
	Status          *JobStatus      `json:"status,omitempty"`
	RetryCount      *int            `json:"retry_count,omitempty"`
	TimeoutSeconds  *int            `json:"timeout_seconds,omitempty"`
	Tags            *[]string       `json:"tags,omitempty"`
	Dependencies    *[]string       `json:"dependencies,omitempty"`
	Conditions      *map[string]any `json:"conditions,omitempty"`
}

func (p UpdateParams) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return invalid("name", "required")
	}
	if p.FunctionName != nil && strings.TrimSpace(*p.FunctionName) == "" {
		return invalid("function_name", "required")
	}
	if p.CronExpression != nil {
		if err := validateExpression(*p.CronExpression); err != nil {
			return err
		}
	}
	if p.JobType != nil && !p.JobType.Valid() {
		return invalid("job_type", "unknown job type %q", *p.JobType)
	}
	if p.Status != nil {
		switch *p.Status {
		case JobActive, JobInactive, JobPaused, JobError:
		default:
			return invalid("status", "unknown status %q", *p.Status)
		}
	}
	if p.RetryCount != nil && *p.RetryCount < 0 {
		return invalid("retry_count", "must be >= 0")
	}
	if p.TimeoutSeconds != nil && *p.TimeoutSeconds < 0 {
		return invalid("timeout_seconds", "must be >= 0")
	}
	return nil
}

// Apply merges the update into j and reports whether the expression changed.
func (p UpdateParams) Apply(j *CronJob, now time.Time) (exprChanged bool) {
	if p.Name != nil {
		j.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		j.Description = *p.Description
	}
	if p.CronExpression != nil {
		expr := normalizeExpression(*p.CronExpression)
		exprChanged = expr != j.CronExpression
		j.CronExpression = expr
	}
	if p.JobType != nil {
		j.JobType = *p.JobType
	}
	if p.FunctionName != nil {
		j.FunctionName = strings.TrimSpace(*p.FunctionName)
	}
	if p.FunctionPayload != nil {
		j.FunctionPayload = *p.FunctionPayload
	}
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Enabled != nil && *p.Enabled != j.Enabled {
		j.Enabled = *p.Enabled
		j.Status = StatusFor(j.Enabled)
	}
	if p.RetryCount != nil {
		j.RetryCount = *p.RetryCount
	}
	if p.TimeoutSeconds != nil {
		j.TimeoutSeconds = *p.TimeoutSeconds
	}
	if p.Tags != nil {
		j.Tags = *p.Tags
	}
	if p.Dependencies != nil {
		j.Dependencies = *p.Dependencies
	}
	if p.Conditions != nil {
		j.Conditions = *p.Conditions
	}
	j.UpdatedAt = now
	return exprChanged
}

// TaskParams are the inputs of one-off task creation.
type TaskParams struct {
	Name            string         `json:"name"`
	FunctionName    string         `json:"function_name"`
	FunctionPayload map[string]any `json:"function_payload"`
	ScheduledFor    time.Time      `json:"scheduled_for"`
	Priority        Priority       `json:"priority,omitempty"`
}

func (p TaskParams) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "required")
	}
	if strings.TrimSpace(p.FunctionName) == "" {
		return invalid("function_name", "required")
	}
	if p.ScheduledFor.IsZero() {
		return invalid("scheduled_for", "required")
	}
	if p.Priority != "" && !p.Priority.Valid() {
		return invalid("priority", "unknown priority %q", p.Priority)
	}
	return nil
}

func (p TaskParams) Build(now time.Time) ScheduledTask {
	t := ScheduledTask{
		Name:            strings.TrimSpace(p.Name),
		FunctionName:    strings.TrimSpace(p.FunctionName),
		FunctionPayload: p.FunctionPayload,
		ScheduledFor:    p.ScheduledFor,
		Priority:        p.Priority,
		Status:          TaskPending,
		CreatedAt:       now,
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	if t.FunctionPayload == nil {
		t.FunctionPayload = map[string]any{}
	}
	return t
}

func validateExpression(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return invalid("cron_expression", "required")
	}
	if _, err := cronexpr.Parse(expr); err != nil {
		return &ValidationError{Field: "cron_expression", Reason: err.Error()}
	}
	return nil
}

func normalizeExpression(expr string) string {
	return strings.Join(strings.Fields(expr), " ")
}
