package storage

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"cronsmith/internal/jobs"
)

// Memory is a process-local Store. Values are copied on the way in and out.
type Memory struct {
	mu      sync.RWMutex
	jobs    map[string]jobs.CronJob
	logs    map[string]jobs.ExecutionLog
	tasks   map[string]jobs.ScheduledTask
	content []jobs.GeneratedContent
	// seq breaks ordering ties between rows created in the same instant.
	seq    uint64
	jobSeq map[string]uint64
	logSeq map[string]uint64
}

func NewMemory() *Memory {
	return &Memory{
		jobs:   map[string]jobs.CronJob{},
		logs:   map[string]jobs.ExecutionLog{},
		tasks:  map[string]jobs.ScheduledTask{},
		jobSeq: map[string]uint64{},
		logSeq: map[string]uint64{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateJob(ctx context.Context, j jobs.CronJob) error {
	if err := ctx.Err(); err != nil {
		return jobs.Storage("create job", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return jobs.Storage("create job", errDuplicate("job", j.ID))
	}
	m.seq++
	m.jobSeq[j.ID] = m.seq
	m.jobs[j.ID] = cloneJob(j)
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (jobs.CronJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return jobs.CronJob{}, &jobs.NotFoundError{Kind: "job", ID: id}
	}
	return cloneJob(j), nil
}

func (m *Memory) ListJobs(ctx context.Context) ([]jobs.CronJob, error) {
	m.mu.RLock()
	out := make([]jobs.CronJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, cloneJob(j))
	}
	seq := maps.Clone(m.jobSeq)
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return seq[out[a].ID] > seq[out[b].ID]
	})
	return out, nil
}

func (m *Memory) UpdateJob(ctx context.Context, j jobs.CronJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return &jobs.NotFoundError{Kind: "job", ID: j.ID}
	}
	m.jobs[j.ID] = cloneJob(j)
	return nil
}

func (m *Memory) DeleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return &jobs.NotFoundError{Kind: "job", ID: id}
	}
	for _, l := range m.logs {
		if l.CronJobID == id {
			return jobs.Storage("delete job", errHasLogs(id))
		}
	}
	delete(m.jobs, id)
	delete(m.jobSeq, id)
	return nil
}

func (m *Memory) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]jobs.CronJob, error) {
	m.mu.RLock()
	var out []jobs.CronJob
	for _, j := range m.jobs {
		if j.Enabled && j.NextRunAt != nil && !j.NextRunAt.After(now) {
			out = append(out, cloneJob(j))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].NextRunAt.Before(*out[b].NextRunAt) })
	return truncate(out, limit), nil
}

func (m *Memory) CreateLog(ctx context.Context, l jobs.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[l.CronJobID]; !ok {
		return jobs.Storage("create log", errMissingJob(l.CronJobID))
	}
	if _, ok := m.logs[l.ID]; ok {
		return jobs.Storage("create log", errDuplicate("log", l.ID))
	}
	m.seq++
	m.logSeq[l.ID] = m.seq
	m.logs[l.ID] = cloneLog(l)
	return nil
}

func (m *Memory) GetLog(ctx context.Context, id string) (jobs.ExecutionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.logs[id]
	if !ok {
		return jobs.ExecutionLog{}, &jobs.NotFoundError{Kind: "execution log", ID: id}
	}
	return cloneLog(l), nil
}

func (m *Memory) FinishLog(ctx context.Context, l jobs.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.logs[l.ID]
	if !ok {
		return &jobs.NotFoundError{Kind: "execution log", ID: l.ID}
	}
	if cur.Status != jobs.LogRunning {
		return ErrLogNotRunning
	}
	cur.Status = l.Status
	cur.CompletedAt = cloneTime(l.CompletedAt)
	cur.DurationMS = l.DurationMS
	cur.Output = maps.Clone(l.Output)
	cur.ErrorMessage = l.ErrorMessage
	cur.ErrorKind = l.ErrorKind
	cur.RetryAttempt = l.RetryAttempt
	m.logs[l.ID] = cur
	return nil
}

func (m *Memory) ListLogs(ctx context.Context, jobID string, limit int) ([]jobs.ExecutionLog, error) {
	m.mu.RLock()
	var out []jobs.ExecutionLog
	for _, l := range m.logs {
		if jobID == "" || l.CronJobID == jobID {
			out = append(out, cloneLog(l))
		}
	}
	seq := maps.Clone(m.logSeq)
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if !out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].StartedAt.After(out[b].StartedAt)
		}
		return seq[out[a].ID] > seq[out[b].ID]
	})
	return truncate(out, limit), nil
}

func (m *Memory) DeleteJobLogs(ctx context.Context, jobID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, l := range m.logs {
		if l.CronJobID == jobID {
			delete(m.logs, id)
			delete(m.logSeq, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, l := range m.logs {
		if l.Status.Terminal() && l.StartedAt.Before(before) {
			delete(m.logs, id)
			delete(m.logSeq, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateTask(ctx context.Context, t jobs.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return jobs.Storage("create task", errDuplicate("task", t.ID))
	}
	m.tasks[t.ID] = cloneTask(t)
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (jobs.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return jobs.ScheduledTask{}, &jobs.NotFoundError{Kind: "scheduled task", ID: id}
	}
	return cloneTask(t), nil
}

func (m *Memory) StartTask(ctx context.Context, id string, at time.Time) (jobs.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return jobs.ScheduledTask{}, &jobs.NotFoundError{Kind: "scheduled task", ID: id}
	}
	if t.Status != jobs.TaskPending {
		return jobs.ScheduledTask{}, ErrTaskNotPending
	}
	t.Status = jobs.TaskRunning
	t.StartedAt = &at
	m.tasks[id] = t
	return cloneTask(t), nil
}

func (m *Memory) FinishTask(ctx context.Context, t jobs.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[t.ID]
	if !ok {
		return &jobs.NotFoundError{Kind: "scheduled task", ID: t.ID}
	}
	if cur.Status != jobs.TaskRunning {
		return ErrTaskNotRunning
	}
	cur.Status = t.Status
	cur.CompletedAt = cloneTime(t.CompletedAt)
	cur.Output = maps.Clone(t.Output)
	cur.ErrorMessage = t.ErrorMessage
	m.tasks[t.ID] = cur
	return nil
}

func (m *Memory) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]jobs.ScheduledTask, error) {
	m.mu.RLock()
	var out []jobs.ScheduledTask
	for _, t := range m.tasks {
		if t.Status == jobs.TaskPending && !t.ScheduledFor.After(now) {
			out = append(out, cloneTask(t))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		ra, rb := out[a].Priority.Rank(), out[b].Priority.Rank()
		if ra != rb {
			return ra > rb
		}
		return out[a].ScheduledFor.Before(out[b].ScheduledFor)
	})
	return truncate(out, limit), nil
}

func (m *Memory) SaveContent(ctx context.Context, c jobs.GeneratedContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Metadata = maps.Clone(c.Metadata)
	m.content = append(m.content, c)
	return nil
}

func (m *Memory) ListContent(ctx context.Context, limit int) ([]jobs.GeneratedContent, error) {
	m.mu.RLock()
	out := slices.Clone(m.content)
	m.mu.RUnlock()
	slices.Reverse(out)
	return truncate(out, limit), nil
}

func truncate[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneJob(j jobs.CronJob) jobs.CronJob {
	j.FunctionPayload = maps.Clone(j.FunctionPayload)
	j.Conditions = maps.Clone(j.Conditions)
	j.Tags = slices.Clone(j.Tags)
	j.Dependencies = slices.Clone(j.Dependencies)
	j.NextRunAt = cloneTime(j.NextRunAt)
	j.LastRunAt = cloneTime(j.LastRunAt)
	return j
}

func cloneLog(l jobs.ExecutionLog) jobs.ExecutionLog {
	l.Output = maps.Clone(l.Output)
	l.CompletedAt = cloneTime(l.CompletedAt)
	return l
}

func cloneTask(t jobs.ScheduledTask) jobs.ScheduledTask {
	t.FunctionPayload = maps.Clone(t.FunctionPayload)
	t.Output = maps.Clone(t.Output)
	t.StartedAt = cloneTime(t.StartedAt)
	t.CompletedAt = cloneTime(t.CompletedAt)
	return t
}
