package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cronsmith/internal/metrics"
	logx "cronsmith/pkg/logx"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Context is the schema-less value bag shared by the stages of one execution.
type Context map[string]any

// Stage is one named step. Run mutates pctx to hand data to later stages.
type Stage struct {
	Name string
	Run  func(ctx context.Context, pctx Context) error
}

type StageRecord struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Execution is one run of a stage list. Stages holds a record for every stage
// that started, in order; stages after a failure never appear.
type Execution struct {
	ID          string        `json:"id"`
	Status      Status        `json:"status"`
	Stages      []StageRecord `json:"stages"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// FailedStage returns the id of the failed stage, if any.
func (e Execution) FailedStage() string {
	for _, s := range e.Stages {
		if s.Status == StatusFailed {
			return s.ID
		}
	}
	return ""
}

func (e Execution) clone() Execution {
	e.Stages = append([]StageRecord(nil), e.Stages...)
	return e
}

const DefaultHistorySize = 200

type Config struct {
	HistorySize int
}

// Runner executes pipelines. Concurrent Run calls are independent.
type Runner struct {
	log     logx.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	history []*Execution
	byID    map[string]*Execution
	size    int
}

func New(cfg Config, log logx.Logger, m *metrics.Metrics) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	return &Runner{log: log, metrics: m, byID: map[string]*Execution{}, size: cfg.HistorySize}
}

// Run executes stages in order and returns the final execution. It never panics.
func (r *Runner) Run(ctx context.Context, stages []Stage, pctx Context) Execution {
	if pctx == nil {
		pctx = Context{}
	}
	exec := &Execution{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		CreatedAt: time.Now(),
	}
	r.track(exec)

	var failure error
	for _, st := range stages {
		idx := r.startStage(exec, st.Name)

		err := ctx.Err()
		if err == nil {
			err = runStage(ctx, st, pctx)
		}

		r.finishStage(exec, idx, err)
		if err != nil {
			failure = err
			r.log.Warn("pipeline stage failed",
				logx.ExecutionID(exec.ID),
				logx.String("stage", st.Name),
				logx.Err(err),
			)
			break
		}
	}

	final := r.finish(exec, failure)
	r.metrics.PipelineFinished(string(final.Status), final.FailedStage())
	return final
}

func runStage(ctx context.Context, st Stage, pctx Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if st.Run == nil {
		return errors.New("stage has no body")
	}
	return st.Run(ctx, pctx)
}

func (r *Runner) track(exec *Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, exec)
	r.byID[exec.ID] = exec
	if over := len(r.history) - r.size; over > 0 {
		for _, old := range r.history[:over] {
			delete(r.byID, old.ID)
		}
		r.history = append([]*Execution(nil), r.history[over:]...)
	}
}

func (r *Runner) startStage(exec *Execution, name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec.Stages = append(exec.Stages, StageRecord{ID: name, Status: StatusRunning, StartedAt: time.Now()})
	return len(exec.Stages) - 1
}

func (r *Runner) finishStage(exec *Execution, idx int, err error) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &exec.Stages[idx]
	rec.CompletedAt = &now
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		return
	}
	rec.Status = StatusCompleted
}

func (r *Runner) finish(exec *Execution, failure error) Execution {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	exec.CompletedAt = &now
	if failure != nil {
		exec.Status = StatusFailed
		exec.Error = failure.Error()
	} else {
		exec.Status = StatusCompleted
	}
	return exec.clone()
}

// Execution returns a copy of a tracked execution.
func (r *Runner) Execution(id string) (Execution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return Execution{}, false
	}
	return e.clone(), true
}

// Executions returns copies of the tracked executions, newest first.
func (r *Runner) Executions() []Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Execution, 0, len(r.history))
	for i := len(r.history) - 1; i >= 0; i-- {
		out = append(out, r.history[i].clone())
	}
	return out
}
