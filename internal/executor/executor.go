package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cronsmith/internal/cronexpr"
	"cronsmith/internal/eventbus"
	"cronsmith/internal/jobs"
	"cronsmith/internal/metrics"
	"cronsmith/internal/storage"
	logx "cronsmith/pkg/logx"
)

// Config controls execution. Zero values take defaults.
type Config struct {
	// DefaultTimeout applies to jobs without timeout_seconds and to scheduled tasks.
	DefaultTimeout time.Duration
	// Location is the zone next-run times are computed in.
	Location      *time.Location
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// Now is the clock. Tests override it.
	Now func() time.Time
}

const (
	DefaultTimeout       = 5 * time.Minute
	defaultRetryBase     = 500 * time.Millisecond
	defaultRetryMaxDelay = 15 * time.Second
)

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryBase {
		c.RetryMaxDelay = c.RetryBase
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Result is the outcome of Execute. Execute reports every failure here.
type Result struct {
	Success     bool           `json:"success"`
	JobID       string         `json:"job_id"`
	LogID       string         `json:"log_id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Kind        jobs.ErrorKind `json:"error_kind,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

// TaskResult is the outcome of RunScheduledTask.
type TaskResult struct {
	Success  bool           `json:"success"`
	TaskID   string         `json:"task_id"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Kind     jobs.ErrorKind `json:"error_kind,omitempty"`
	Duration time.Duration  `json:"duration"`
}

type Executor struct {
	store   storage.Store
	reg     *Registry
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	cfg     Config

	running *runSet
	locks   *keyedMutex
}

// New builds an executor. bus and m may be nil.
func New(cfg Config, store storage.Store, reg *Registry, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if reg == nil {
		reg = NewRegistry()
	}
	return &Executor{
		store:   store,
		reg:     reg,
		log:     log,
		bus:     bus,
		metrics: m,
		cfg:     cfg.withDefaults(),
		running: newRunSet(),
		locks:   newKeyedMutex(),
	}
}

func (e *Executor) Registry() *Registry { return e.reg }

// IsRunning reports whether the job currently executes.
func (e *Executor) IsRunning(jobID string) bool { return e.running.has(jobID) }

// RunningCount is the number of jobs currently executing.
func (e *Executor) RunningCount() int { return e.running.count() }

func (e *Executor) nextRun(expr string, ref time.Time) (*time.Time, error) {
	next, err := cronexpr.NextRun(expr, ref.In(e.cfg.Location))
	if err != nil {
		return nil, &jobs.ValidationError{Field: "cron_expression", Reason: err.Error()}
	}
	return &next, nil
}

// ---- definitions ----

// Create validates p, computes the first next_run_at and persists the job.
func (e *Executor) Create(ctx context.Context, p jobs.CreateParams) (jobs.CronJob, error) {
	if err := p.Validate(); err != nil {
		return jobs.CronJob{}, err
	}
	now := e.cfg.Now()
	job := p.Build(now)
	job.ID = uuid.NewString()
	next, err := e.nextRun(job.CronExpression, now)
	if err != nil {
		return jobs.CronJob{}, err
	}
	job.NextRunAt = next
	if err := e.store.CreateJob(ctx, job); err != nil {
		return jobs.CronJob{}, err
	}
	e.log.Info("job created",
		logx.JobID(job.ID),
		logx.String("name", job.Name),
		logx.String("cron", job.CronExpression),
		logx.Time("next_run_at", *job.NextRunAt),
	)
	return job, nil
}

// Update applies a partial update. A changed expression recomputes next_run_at.
func (e *Executor) Update(ctx context.Context, id string, p jobs.UpdateParams) (jobs.CronJob, error) {
	if err := p.Validate(); err != nil {
		return jobs.CronJob{}, err
	}
	unlock := e.locks.lock(id)
	defer unlock()

	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return jobs.CronJob{}, err
	}
	now := e.cfg.Now()
	if p.Apply(&job, now) {
		next, err := e.nextRun(job.CronExpression, now)
		if err != nil {
			return jobs.CronJob{}, err
		}
		job.NextRunAt = next
	}
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return jobs.CronJob{}, err
	}
	e.log.Info("job updated", logx.JobID(id))
	return job, nil
}

// Toggle flips enabled and the matching status. next_run_at is left as is.
func (e *Executor) Toggle(ctx context.Context, id string, enabled bool) (jobs.CronJob, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return jobs.CronJob{}, err
	}
	job.Enabled = enabled
	job.Status = jobs.StatusFor(enabled)
	job.UpdatedAt = e.cfg.Now()
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return jobs.CronJob{}, err
	}
	e.log.Info("job toggled", logx.JobID(id), logx.Bool("enabled", enabled))
	return job, nil
}

// Delete removes the job's logs, then the job. A job that is executing cannot be deleted.
func (e *Executor) Delete(ctx context.Context, id string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	// Holding the run slot keeps Execute out while rows are removed.
	if !e.running.tryAcquire(id) {
		return fmt.Errorf("delete %s: %w", id, jobs.ErrJobRunning)
	}
	defer e.running.release(id)

	if _, err := e.store.GetJob(ctx, id); err != nil {
		return err
	}
	n, err := e.store.DeleteJobLogs(ctx, id)
	if err != nil {
		return err
	}
	if err := e.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	e.log.Info("job deleted", logx.JobID(id), logx.Int64("logs_removed", n))
	return nil
}

func (e *Executor) Get(ctx context.Context, id string) (jobs.CronJob, error) {
	return e.store.GetJob(ctx, id)
}

func (e *Executor) List(ctx context.Context) ([]jobs.CronJob, error) {
	return e.store.ListJobs(ctx)
}

// Logs lists execution logs newest first. An empty jobID spans all jobs.
func (e *Executor) Logs(ctx context.Context, jobID string, limit int) ([]jobs.ExecutionLog, error) {
	return e.store.ListLogs(ctx, jobID, limit)
}

func (e *Executor) DueJobs(ctx context.Context, now time.Time, limit int) ([]jobs.CronJob, error) {
	return e.store.ListDueJobs(ctx, now, limit)
}

// ---- execution ----

// Execute runs one job now. Rejections (not found, disabled, already running)
// create no log row. It never panics and never returns an error.
func (e *Executor) Execute(ctx context.Context, jobID string) Result {
	if !e.running.tryAcquire(jobID) {
		return e.reject(jobID, jobs.ErrAlreadyRunning)
	}
	defer e.running.release(jobID)

	// Bookkeeping must survive a caller that gives up mid-run.
	bg := context.WithoutCancel(ctx)

	// The job is read and its log row created under the job lock, so a Toggle
	// or Delete that committed first is honored.
	unlock := e.locks.lock(jobID)
	job, err := e.store.GetJob(ctx, jobID)
	if err == nil && !job.Enabled {
		err = jobs.ErrDisabled
	}
	if err != nil {
		unlock()
		return e.reject(jobID, err)
	}
	start := e.cfg.Now()
	entry := jobs.ExecutionLog{
		ID:          uuid.NewString(),
		CronJobID:   job.ID,
		ExecutionID: uuid.NewString(),
		Status:      jobs.LogRunning,
		StartedAt:   start,
	}
	res := Result{JobID: job.ID, LogID: entry.ID, ExecutionID: entry.ExecutionID}
	err = e.store.CreateLog(bg, entry)
	unlock()
	if err != nil {
		res.LogID = ""
		res.Error = err.Error()
		res.Kind = jobs.KindOf(err)
		e.log.Error("execution log create failed", logx.JobID(job.ID), logx.Err(err))
		return res
	}
	e.metrics.RunningDelta(1)
	defer e.metrics.RunningDelta(-1)

	log := e.log.With(
		logx.JobID(job.ID),
		logx.String("function", job.FunctionName),
		logx.ExecutionID(entry.ExecutionID),
	)
	log.Info("job started")
	e.publish(eventbus.JobStarted, eventbus.JobEvent{JobID: job.ID, LogID: entry.ID, ExecutionID: entry.ExecutionID, Function: job.FunctionName})

	var (
		out      map[string]any
		attempts int
	)
	fn, ok := e.reg.Lookup(job.FunctionName)
	if !ok {
		err = fmt.Errorf("%w: %q", jobs.ErrNotRegistered, job.FunctionName)
	} else {
		out, attempts, err = e.invoke(ctx, call{
			fn:      fn,
			name:    job.FunctionName,
			payload: job.FunctionPayload,
			budget:  job.Timeout(e.cfg.DefaultTimeout),
			retries: job.RetryCount,
			info:    ExecutionInfo{JobID: job.ID, LogID: entry.ID, ExecutionID: entry.ExecutionID, Function: job.FunctionName},
		})
	}

	finish := e.cfg.Now()
	entry.CompletedAt = &finish
	entry.DurationMS = finish.Sub(start).Milliseconds()
	entry.Output = out
	entry.RetryAttempt = max(attempts-1, 0)
	switch {
	case err == nil:
		entry.Status = jobs.LogCompleted
	case errors.Is(err, context.Canceled):
		entry.Status = jobs.LogCancelled
	default:
		entry.Status = jobs.LogFailed
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
		entry.ErrorKind = jobs.KindOf(err)
	}

	res.Output = out
	res.Attempts = attempts
	res.Duration = finish.Sub(start)
	res.Success = err == nil
	if err != nil {
		res.Error = entry.ErrorMessage
		res.Kind = entry.ErrorKind
	}

	if ferr := e.store.FinishLog(bg, entry); ferr != nil {
		log.Error("execution log finalize failed", logx.Err(ferr))
		res.Success = false
		res.Error = ferr.Error()
		res.Kind = jobs.KindStorage
	}
	if serr := e.afterRun(bg, job.ID, finish, err == nil); serr != nil {
		log.Error("job schedule update failed", logx.Err(serr))
		if res.Success {
			res.Success = false
			res.Error = serr.Error()
			res.Kind = jobs.KindOf(serr)
		}
	}

	e.metrics.ObserveExecution(job.FunctionName, res.Success, res.Duration)
	ev := eventbus.JobEvent{
		JobID:       job.ID,
		LogID:       entry.ID,
		ExecutionID: entry.ExecutionID,
		Function:    job.FunctionName,
		Kind:        string(res.Kind),
		Error:       res.Error,
		Duration:    res.Duration,
	}
	if res.Success {
		log.Info("job completed", logx.Duration("took", res.Duration), logx.Int("attempts", attempts))
		e.publish(eventbus.JobCompleted, ev)
	} else {
		log.Warn("job failed", logx.Duration("took", res.Duration), logx.Int("attempts", attempts), logx.String("kind", string(res.Kind)), logx.String("err", res.Error))
		e.publish(eventbus.JobFailed, ev)
	}
	return res
}

// afterRun stamps last_run_at and the next run computed from the finish instant.
// A job disabled while it ran keeps its inactive status.
func (e *Executor) afterRun(ctx context.Context, id string, finish time.Time, success bool) error {
	unlock := e.locks.lock(id)
	defer unlock()

	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	job.LastRunAt = &finish
	if next, err := e.nextRun(job.CronExpression, finish); err == nil {
		job.NextRunAt = next
	}
	switch {
	case !job.Enabled:
		job.Status = jobs.JobInactive
	case success:
		job.Status = jobs.JobActive
	default:
		job.Status = jobs.JobError
	}
	job.UpdatedAt = finish
	return e.store.UpdateJob(ctx, job)
}

func (e *Executor) reject(jobID string, err error) Result {
	kind := jobs.KindOf(err)
	e.metrics.Rejected(string(kind))
	e.log.Info("job run rejected", logx.JobID(jobID), logx.String("kind", string(kind)), logx.Err(err))
	e.publish(eventbus.JobRejected, eventbus.JobEvent{JobID: jobID, Kind: string(kind), Error: err.Error()})
	return Result{JobID: jobID, Error: err.Error(), Kind: kind}
}

func (e *Executor) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// ---- one-off tasks ----

func (e *Executor) CreateScheduledTask(ctx context.Context, p jobs.TaskParams) (jobs.ScheduledTask, error) {
	if err := p.Validate(); err != nil {
		return jobs.ScheduledTask{}, err
	}
	t := p.Build(e.cfg.Now())
	t.ID = uuid.NewString()
	if err := e.store.CreateTask(ctx, t); err != nil {
		return jobs.ScheduledTask{}, err
	}
	e.log.Info("scheduled task created",
		logx.TaskID(t.ID),
		logx.String("function", t.FunctionName),
		logx.Time("scheduled_for", t.ScheduledFor),
		logx.String("priority", string(t.Priority)),
	)
	return t, nil
}

func (e *Executor) GetScheduledTask(ctx context.Context, id string) (jobs.ScheduledTask, error) {
	return e.store.GetTask(ctx, id)
}

func (e *Executor) DueTasks(ctx context.Context, now time.Time, limit int) ([]jobs.ScheduledTask, error) {
	return e.store.ListDueTasks(ctx, now, limit)
}

// RunScheduledTask moves a pending task through running to a terminal status
// exactly once. Tasks get the default timeout and no retries.
func (e *Executor) RunScheduledTask(ctx context.Context, id string) TaskResult {
	bg := context.WithoutCancel(ctx)
	start := e.cfg.Now()
	t, err := e.store.StartTask(bg, id, start)
	if err != nil {
		kind := jobs.KindOf(err)
		if errors.Is(err, storage.ErrTaskNotPending) {
			kind = jobs.KindAlreadyRunning
		}
		return TaskResult{TaskID: id, Error: err.Error(), Kind: kind}
	}

	var out map[string]any
	fn, ok := e.reg.Lookup(t.FunctionName)
	if !ok {
		err = fmt.Errorf("%w: %q", jobs.ErrNotRegistered, t.FunctionName)
	} else {
		out, _, err = e.invoke(ctx, call{
			fn:      fn,
			name:    t.FunctionName,
			payload: t.FunctionPayload,
			budget:  e.cfg.DefaultTimeout,
			info:    ExecutionInfo{TaskID: t.ID, ExecutionID: uuid.NewString(), Function: t.FunctionName},
		})
	}

	finish := e.cfg.Now()
	t.CompletedAt = &finish
	t.Output = out
	t.Status = jobs.TaskCompleted
	res := TaskResult{TaskID: t.ID, Output: out, Success: err == nil, Duration: finish.Sub(start)}
	if err != nil {
		t.Status = jobs.TaskFailed
		t.ErrorMessage = err.Error()
		res.Error = err.Error()
		res.Kind = jobs.KindOf(err)
	}
	if ferr := e.store.FinishTask(bg, t); ferr != nil {
		e.log.Error("scheduled task finalize failed", logx.TaskID(t.ID), logx.Err(ferr))
		res.Success = false
		res.Error = ferr.Error()
		res.Kind = jobs.KindStorage
	}

	e.metrics.TaskFinished(res.Success)
	ev := eventbus.TaskEvent{TaskID: t.ID, Function: t.FunctionName, Error: res.Error, Duration: res.Duration}
	if res.Success {
		e.log.Info("scheduled task completed", logx.TaskID(t.ID), logx.Duration("took", res.Duration))
		e.publish(eventbus.TaskCompleted, ev)
	} else {
		e.log.Warn("scheduled task failed", logx.TaskID(t.ID), logx.String("err", res.Error))
		e.publish(eventbus.TaskFailed, ev)
	}
	return res
}
