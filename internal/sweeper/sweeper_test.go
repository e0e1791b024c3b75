package sweeper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cronsmith/internal/executor"
	"cronsmith/internal/jobs"
	"cronsmith/internal/storage"
	logx "cronsmith/pkg/logx"
)

type fakeDispatcher struct {
	jobs    []jobs.CronJob
	tasks   []jobs.ScheduledTask
	running map[string]bool
	hold    chan struct{}

	mu       sync.Mutex
	executed []string
	ran      []string
	active   atomic.Int32
	peak     atomic.Int32
}

func (f *fakeDispatcher) DueJobs(ctx context.Context, now time.Time, limit int) ([]jobs.CronJob, error) {
	if len(f.jobs) > limit {
		return f.jobs[:limit], nil
	}
	return f.jobs, nil
}

func (f *fakeDispatcher) DueTasks(ctx context.Context, now time.Time, limit int) ([]jobs.ScheduledTask, error) {
	return f.tasks, nil
}

func (f *fakeDispatcher) Execute(ctx context.Context, jobID string) executor.Result {
	n := f.active.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.hold != nil {
		<-f.hold
	}
	f.active.Add(-1)
	f.mu.Lock()
	f.executed = append(f.executed, jobID)
	f.mu.Unlock()
	return executor.Result{Success: true, JobID: jobID}
}

func (f *fakeDispatcher) RunScheduledTask(ctx context.Context, taskID string) executor.TaskResult {
	f.mu.Lock()
	f.ran = append(f.ran, taskID)
	f.mu.Unlock()
	return executor.TaskResult{Success: true, TaskID: taskID}
}

func (f *fakeDispatcher) IsRunning(jobID string) bool { return f.running[jobID] }

func dueJobs(n int) []jobs.CronJob {
	out := make([]jobs.CronJob, n)
	for i := range out {
		out[i] = jobs.CronJob{ID: fmt.Sprintf("job-%d", i)}
	}
	return out
}

func waitAll(t *testing.T, s *Sweeper) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestSweepDispatchesJobsAndTasks(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{
		jobs:    dueJobs(3),
		tasks:   []jobs.ScheduledTask{{ID: "task-1"}},
		running: map[string]bool{"job-1": true},
	}
	s := New(Config{}, d, logx.Nop(), nil)

	rep := s.Sweep(context.Background())
	waitAll(t, s)
	if rep.Jobs != 2 || rep.Tasks != 1 || rep.Skipped != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(d.executed) != 2 || len(d.ran) != 1 {
		t.Fatalf("executed = %v, ran = %v", d.executed, d.ran)
	}
	for _, id := range d.executed {
		if id == "job-1" {
			t.Fatal("running job dispatched again")
		}
	}
}

func TestSweepBoundsConcurrency(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{jobs: dueJobs(8), hold: make(chan struct{})}
	s := New(Config{Concurrency: 2}, d, logx.Nop(), nil)

	done := make(chan Report, 1)
	go func() { done <- s.Sweep(context.Background()) }()

	deadline := time.After(2 * time.Second)
	for d.active.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("workers never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(d.hold)
	rep := <-done
	waitAll(t, s)
	if rep.Jobs != 8 || d.peak.Load() > 2 {
		t.Fatalf("report = %+v, peak = %d", rep, d.peak.Load())
	}
}

func TestSweepRespectsBatchSize(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{jobs: dueJobs(10)}
	s := New(Config{BatchSize: 4}, d, logx.Nop(), nil)
	rep := s.Sweep(context.Background())
	waitAll(t, s)
	if rep.Jobs != 4 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestSweepRateLimit(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{jobs: dueJobs(3)}
	s := New(Config{RatePerSec: 20, Burst: 1}, d, logx.Nop(), nil)
	start := time.Now()
	s.Sweep(context.Background())
	waitAll(t, s)
	// Burst 1 at 20/s spaces three dispatches by at least ~100ms in total.
	if took := time.Since(start); took < 80*time.Millisecond {
		t.Fatalf("rate limit not applied, took %v", took)
	}
}

func TestScheduleValidation(t *testing.T) {
	t.Parallel()
	for _, spec := range []string{"@every 30s", "*/5 * * * *", "0 */1 * * * *"} {
		if err := ParseSchedule(spec); err != nil {
			t.Errorf("%q: %v", spec, err)
		}
	}
	if err := ParseSchedule("every thirty seconds"); err == nil {
		t.Fatal("bad schedule accepted")
	}
	s := New(Config{}, &fakeDispatcher{}, logx.Nop(), nil)
	if err := s.Apply(Config{Enabled: true, Schedule: "nope"}); err == nil {
		t.Fatal("Apply accepted a bad schedule")
	}
	if s.Enabled() {
		t.Fatal("failed Apply must keep the previous config")
	}
}

func TestStartRunsOnScheduleAgainstExecutor(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	reg := executor.NewRegistry()
	var calls atomic.Int32
	if err := reg.Register("tick", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		calls.Add(1)
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	exec := executor.New(executor.Config{}, store, reg, logx.Nop(), nil, nil)
	ctx := context.Background()

	j, err := exec.Create(ctx, jobs.CreateParams{Name: "tick", CronExpression: "0 9 * * *", FunctionName: "tick"})
	if err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Minute)
	j.NextRunAt = &past
	if err := store.UpdateJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	s := New(Config{Enabled: true, Schedule: "@every 1s"}, exec, logx.Nop(), nil)
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want exactly 1", calls.Load())
	}
	got, _ := exec.Get(ctx, j.ID)
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Fatalf("next_run_at not advanced: %v", got.NextRunAt)
	}
}

func TestApplyTogglesCron(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &fakeDispatcher{}, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.c != nil {
		t.Fatal("disabled sweeper must not start cron")
	}
	if err := s.Apply(Config{Enabled: true, Schedule: "@every 1h"}); err != nil {
		t.Fatal(err)
	}
	if s.c == nil {
		t.Fatal("enabling should start cron")
	}
	if err := s.Apply(Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if s.c != nil {
		t.Fatal("disabling should stop cron")
	}
}
