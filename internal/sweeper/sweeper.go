// Package sweeper periodically dispatches due jobs and due one-off tasks to
// the executor. It only triggers; execution rules live in the executor.
package sweeper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"cronsmith/internal/executor"
	"cronsmith/internal/jobs"
	"cronsmith/internal/metrics"
	logx "cronsmith/pkg/logx"
)

const (
	DefaultSchedule    = "@every 30s"
	defaultConcurrency = 4
	defaultBatchSize   = 50
)

type Config struct {
	Enabled     bool
	Schedule    string
	Concurrency int
	BatchSize   int
	// RatePerSec caps dispatches per second; 0 disables the limit.
	RatePerSec float64
	Burst      int
}

func (c Config) withDefaults() Config {
	c.Schedule = strings.TrimSpace(c.Schedule)
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Burst <= 0 {
		c.Burst = max(1, int(c.RatePerSec))
	}
	return c
}

// ParseSchedule checks a schedule the way Start will use it.
func ParseSchedule(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("sweeper schedule %q: %w", spec, err)
	}
	return nil
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Dispatcher is the executor surface the sweeper drives.
type Dispatcher interface {
	DueJobs(ctx context.Context, now time.Time, limit int) ([]jobs.CronJob, error)
	DueTasks(ctx context.Context, now time.Time, limit int) ([]jobs.ScheduledTask, error)
	Execute(ctx context.Context, jobID string) executor.Result
	RunScheduledTask(ctx context.Context, taskID string) executor.TaskResult
	IsRunning(jobID string) bool
}

// Report summarizes one sweep.
type Report struct {
	Jobs    int `json:"jobs"`
	Tasks   int `json:"tasks"`
	Skipped int `json:"skipped"`
}

type Sweeper struct {
	exec    Dispatcher
	log     logx.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	runCtx    context.Context
	runCancel context.CancelFunc
	inflight  sync.WaitGroup
	sweeping  atomic.Bool
}

func New(cfg Config, exec Dispatcher, log logx.Logger, m *metrics.Metrics) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sweeper{exec: exec, log: log, metrics: m}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.setConfigLocked(cfg)
	return s
}

func (s *Sweeper) setConfigLocked(cfg Config) {
	cfg = cfg.withDefaults()
	if s.sem == nil || cfg.Concurrency != s.cfg.Concurrency {
		// In-flight work keeps the old semaphore; new dispatches use this one.
		s.sem = semaphore.NewWeighted(int64(cfg.Concurrency))
	}
	if cfg.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	} else {
		s.limiter = nil
	}
	s.cfg = cfg
}

// Enabled reports the current config flag.
func (s *Sweeper) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start registers the sweep on the cron schedule. It is a no-op when disabled
// or already started.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	return s.startLocked()
}

func (s *Sweeper) startLocked() error {
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.Sweep(s.runCtx) }); err != nil {
		return fmt.Errorf("sweeper schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.c = c
	s.log.Info("sweeper started",
		logx.String("schedule", s.cfg.Schedule),
		logx.Int("concurrency", s.cfg.Concurrency),
		logx.Int("batch", s.cfg.BatchSize),
		logx.Float64("rate_per_sec", s.cfg.RatePerSec),
	)
	return nil
}

func (s *Sweeper) stopCronLocked(ctx context.Context) {
	if s.c == nil {
		return
	}
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	s.c = nil
}

// Apply swaps the configuration. A schedule or enable change restarts the cron.
func (s *Sweeper) Apply(cfg Config) error {
	if cfg.Enabled {
		if err := ParseSchedule(cfg.withDefaults().Schedule); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	running := s.c != nil
	s.setConfigLocked(cfg)

	switch {
	case running && (!s.cfg.Enabled || s.cfg.Schedule != old.Schedule):
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.stopCronLocked(ctx)
		cancel()
		if s.cfg.Enabled {
			return s.startLocked()
		}
		s.log.Info("sweeper disabled")
	case !running && s.cfg.Enabled:
		return s.startLocked()
	}
	return nil
}

// Stop halts the schedule and waits for dispatched work. When ctx expires
// first, in-flight work is canceled.
func (s *Sweeper) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	s.stopCronLocked(ctx)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.runCancel()
	s.log.Info("sweeper stopped", logx.Duration("took", time.Since(start)))
	return err
}

// Sweep dispatches everything due now and returns without waiting for it to
// finish. Overlapping sweeps are skipped.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.log.Debug("sweep skipped: previous sweep still dispatching")
		return Report{}
	}
	defer s.sweeping.Store(false)

	s.mu.Lock()
	cfg, sem, limiter := s.cfg, s.sem, s.limiter
	s.mu.Unlock()

	var rep Report
	now := time.Now()

	due, err := s.exec.DueJobs(ctx, now, cfg.BatchSize)
	if err != nil {
		s.log.Warn("due jobs query failed", logx.Err(err))
	}
	for _, j := range due {
		if s.exec.IsRunning(j.ID) {
			rep.Skipped++
			continue
		}
		if !s.dispatch(ctx, sem, limiter, "job", func(ctx context.Context) {
			if res := s.exec.Execute(ctx, j.ID); !res.Success {
				s.log.Debug("swept job failed", logx.JobID(j.ID), logx.String("kind", string(res.Kind)))
			}
		}) {
			break
		}
		rep.Jobs++
	}

	tasks, err := s.exec.DueTasks(ctx, now, cfg.BatchSize)
	if err != nil {
		s.log.Warn("due tasks query failed", logx.Err(err))
	}
	for _, t := range tasks {
		if !s.dispatch(ctx, sem, limiter, "task", func(ctx context.Context) {
			s.exec.RunScheduledTask(ctx, t.ID)
		}) {
			break
		}
		rep.Tasks++
	}

	s.metrics.Sweep()
	if rep.Jobs+rep.Tasks+rep.Skipped > 0 {
		s.log.Info("sweep dispatched",
			logx.Int("jobs", rep.Jobs),
			logx.Int("tasks", rep.Tasks),
			logx.Int("skipped", rep.Skipped),
		)
	}
	return rep
}

// dispatch waits for the limiter and a semaphore slot, then runs fn in its
// own goroutine under the sweeper's run context. It reports false when ctx ended.
func (s *Sweeper) dispatch(ctx context.Context, sem *semaphore.Weighted, limiter *rate.Limiter, kind string, fn func(ctx context.Context)) bool {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return false
	}
	s.inflight.Add(1)
	s.metrics.Dispatched(kind)
	go func() {
		defer s.inflight.Done()
		defer sem.Release(1)
		fn(s.runCtx)
	}()
	return true
}

// Wait blocks until every dispatched run has returned or ctx ends.
func (s *Sweeper) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
