package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cronsmith/internal/eventbus"
	"cronsmith/internal/jobs"
	"cronsmith/internal/metrics"
	"cronsmith/internal/storage"
	logx "cronsmith/pkg/logx"
)

type fixture struct {
	exec  *Executor
	store *storage.Memory
	reg   *Registry
	bus   eventbus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory()
	reg := NewRegistry()
	bus := eventbus.New()
	exec := New(Config{
		Location:      time.UTC,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}, store, reg, logx.Nop(), bus, metrics.New())
	return &fixture{exec: exec, store: store, reg: reg, bus: bus}
}

func (f *fixture) register(t *testing.T, name string, fn WorkFunc) {
	t.Helper()
	if err := f.reg.Register(name, fn); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) createJob(t *testing.T, fn string, mut func(*jobs.CreateParams)) jobs.CronJob {
	t.Helper()
	p := jobs.CreateParams{Name: "job " + fn, CronExpression: "*/5 * * * *", FunctionName: fn}
	if mut != nil {
		mut(&p)
	}
	j, err := f.exec.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return j
}

func (f *fixture) logs(t *testing.T, jobID string) []jobs.ExecutionLog {
	t.Helper()
	ls, err := f.exec.Logs(context.Background(), jobID, 0)
	if err != nil {
		t.Fatal(err)
	}
	return ls
}

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func ok(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return map[string]any{"echo": payload["msg"]}, nil
}

func TestCreateComputesNextRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	before := time.Now()
	j := f.createJob(t, "noop", nil)
	if j.ID == "" || j.NextRunAt == nil {
		t.Fatalf("job = %+v", j)
	}
	if !j.NextRunAt.After(before) || j.NextRunAt.Minute()%5 != 0 || j.NextRunAt.Second() != 0 {
		t.Fatalf("next_run_at = %v", j.NextRunAt)
	}
	if _, err := f.exec.Create(context.Background(), jobs.CreateParams{Name: "x", CronExpression: "61 * * * *", FunctionName: "f"}); !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("bad expression: err = %v", err)
	}
	all, _ := f.exec.List(context.Background())
	if len(all) != 1 {
		t.Fatalf("invalid job persisted: %d jobs", len(all))
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.register(t, "echo", ok)
	j := f.createJob(t, "echo", func(p *jobs.CreateParams) { p.FunctionPayload = map[string]any{"msg": "hi"} })

	events, unsub := f.bus.Subscribe(8)
	defer unsub()

	res := f.exec.Execute(context.Background(), j.ID)
	if !res.Success || res.Error != "" || res.Output["echo"] != "hi" || res.Attempts != 1 {
		t.Fatalf("result = %+v", res)
	}
	ls := f.logs(t, j.ID)
	if len(ls) != 1 {
		t.Fatalf("logs = %d", len(ls))
	}
	l := ls[0]
	if l.Status != jobs.LogCompleted || l.CompletedAt == nil || l.ExecutionID != res.ExecutionID || l.RetryAttempt != 0 {
		t.Fatalf("log = %+v", l)
	}

	got, _ := f.exec.Get(context.Background(), j.ID)
	if got.LastRunAt == nil || got.Status != jobs.JobActive {
		t.Fatalf("job after run = %+v", got)
	}
	if !got.NextRunAt.After(*got.LastRunAt) {
		t.Fatalf("next %v not after last %v", got.NextRunAt, got.LastRunAt)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if len(types) != 2 || types[0] != eventbus.JobStarted || types[1] != eventbus.JobCompleted {
		t.Fatalf("events = %v", types)
	}
}

func TestExecuteRejectionsLeaveNoLog(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.exec.Execute(context.Background(), "missing")
	if res.Success || res.Kind != jobs.KindNotFound || res.LogID != "" {
		t.Fatalf("missing job: %+v", res)
	}

	f.register(t, "echo", ok)
	j := f.createJob(t, "echo", func(p *jobs.CreateParams) { p.Enabled = boolp(false) })
	res = f.exec.Execute(context.Background(), j.ID)
	if res.Success || res.Kind != jobs.KindDisabled || res.Error != jobs.ErrDisabled.Error() {
		t.Fatalf("disabled job: %+v", res)
	}
	if n := len(f.logs(t, "")); n != 0 {
		t.Fatalf("logs = %d, want 0", n)
	}
}

func TestExecuteRejectsConcurrentRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	f.register(t, "slow", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		close(started)
		<-release
		return nil, nil
	})
	j := f.createJob(t, "slow", nil)

	done := make(chan Result, 1)
	go func() { done <- f.exec.Execute(context.Background(), j.ID) }()
	<-started

	if !f.exec.IsRunning(j.ID) || f.exec.RunningCount() != 1 {
		t.Fatal("job should be reported running")
	}
	second := f.exec.Execute(context.Background(), j.ID)
	if second.Success || second.Kind != jobs.KindAlreadyRunning {
		t.Fatalf("second run = %+v", second)
	}
	if err := f.exec.Delete(context.Background(), j.ID); !errors.Is(err, jobs.ErrJobRunning) {
		t.Fatalf("delete while running: err = %v", err)
	}

	close(release)
	if first := <-done; !first.Success {
		t.Fatalf("first run = %+v", first)
	}
	if n := len(f.logs(t, j.ID)); n != 1 {
		t.Fatalf("logs = %d, want 1", n)
	}
	if f.exec.IsRunning(j.ID) {
		t.Fatal("run slot not released")
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	var calls atomic.Int32
	f.register(t, "flaky", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		info, _ := ExecutionFromContext(ctx)
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return map[string]any{"attempt": info.Attempt}, nil
	})
	j := f.createJob(t, "flaky", func(p *jobs.CreateParams) { p.RetryCount = intp(3) })

	res := f.exec.Execute(context.Background(), j.ID)
	if !res.Success || res.Attempts != 3 || res.Output["attempt"] != 3 {
		t.Fatalf("result = %+v", res)
	}
	ls := f.logs(t, j.ID)
	if len(ls) != 1 || ls[0].RetryAttempt != 2 {
		t.Fatalf("logs = %+v", ls)
	}
}

func TestExecuteFailureAfterRetries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	var calls atomic.Int32
	f.register(t, "broken", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		calls.Add(1)
		return nil, errors.New("upstream down")
	})
	j := f.createJob(t, "broken", func(p *jobs.CreateParams) { p.RetryCount = intp(2) })

	res := f.exec.Execute(context.Background(), j.ID)
	if res.Success || res.Kind != jobs.KindExecution || calls.Load() != 3 {
		t.Fatalf("result = %+v, calls = %d", res, calls.Load())
	}
	ls := f.logs(t, j.ID)
	if len(ls) != 1 || ls[0].Status != jobs.LogFailed || ls[0].ErrorMessage == "" || ls[0].ErrorKind != jobs.KindExecution {
		t.Fatalf("logs = %+v", ls)
	}
	got, _ := f.exec.Get(context.Background(), j.ID)
	if got.Status != jobs.JobError || got.LastRunAt == nil {
		t.Fatalf("job = %+v", got)
	}
}

func TestExecuteFastFailureIsNotATimeout(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	reg := NewRegistry()
	exec := New(Config{Location: time.UTC}, store, reg, logx.Nop(), nil, metrics.New())
	var calls atomic.Int32
	if err := reg.Register("rejects", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		calls.Add(1)
		return nil, errors.New("upstream rejected request")
	}); err != nil {
		t.Fatal(err)
	}
	j, err := exec.Create(context.Background(), jobs.CreateParams{
		Name:           "rejects",
		CronExpression: "*/5 * * * *",
		FunctionName:   "rejects",
		TimeoutSeconds: intp(1),
		RetryCount:     intp(5),
	})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	res := exec.Execute(context.Background(), j.ID)
	if took := time.Since(start); took > 1200*time.Millisecond {
		t.Fatalf("retries outlived the budget: %v", took)
	}
	if res.Success || res.Kind != jobs.KindExecution || !strings.Contains(res.Error, "upstream rejected request") {
		t.Fatalf("result = %+v", res)
	}
	if n := int(calls.Load()); n < 1 || n > 6 || res.Attempts != n {
		t.Fatalf("calls = %d, attempts = %d", n, res.Attempts)
	}
	ls, _ := exec.Logs(context.Background(), j.ID, 0)
	if len(ls) != 1 || ls[0].ErrorKind != jobs.KindExecution {
		t.Fatalf("logs = %+v", ls)
	}
}

func TestExecutePermanentErrorSkipsRetries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	var calls atomic.Int32
	f.register(t, "reject", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		calls.Add(1)
		return nil, Permanent(errors.New("bad request"))
	})
	j := f.createJob(t, "reject", func(p *jobs.CreateParams) { p.RetryCount = intp(5) })

	res := f.exec.Execute(context.Background(), j.ID)
	if res.Success || calls.Load() != 1 || res.Kind != jobs.KindExecution {
		t.Fatalf("result = %+v, calls = %d", res, calls.Load())
	}
}

func TestExecuteTimeoutIgnoringContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	f.register(t, "stuck", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		<-block
		return nil, nil
	})
	j := f.createJob(t, "stuck", func(p *jobs.CreateParams) {
		p.TimeoutSeconds = intp(1)
		p.RetryCount = intp(3)
	})

	start := time.Now()
	res := f.exec.Execute(context.Background(), j.ID)
	if res.Success || res.Kind != jobs.KindTimeout || res.Attempts != 1 {
		t.Fatalf("result = %+v", res)
	}
	if took := time.Since(start); took > 3*time.Second {
		t.Fatalf("timeout took %v", took)
	}
	ls := f.logs(t, j.ID)
	if ls[0].Status != jobs.LogFailed || ls[0].ErrorKind != jobs.KindTimeout {
		t.Fatalf("log = %+v", ls[0])
	}
}

func TestExecutePanicBecomesFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.register(t, "panics", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		panic("nil map")
	})
	j := f.createJob(t, "panics", func(p *jobs.CreateParams) { p.RetryCount = intp(0) })

	res := f.exec.Execute(context.Background(), j.ID)
	if res.Success || res.Kind != jobs.KindExecution {
		t.Fatalf("result = %+v", res)
	}
	if f.exec.IsRunning(j.ID) {
		t.Fatal("run slot leaked after panic")
	}
}

func TestExecuteUnregisteredFunction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	j := f.createJob(t, "ghost", nil)
	res := f.exec.Execute(context.Background(), j.ID)
	if res.Success || res.Kind != jobs.KindNotRegistered || res.LogID == "" {
		t.Fatalf("result = %+v", res)
	}
	if ls := f.logs(t, j.ID); len(ls) != 1 || ls[0].Status != jobs.LogFailed {
		t.Fatalf("logs = %+v", ls)
	}
}

func TestExecuteCanceledByCaller(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.register(t, "waits", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	j := f.createJob(t, "waits", nil)

	res := f.exec.Execute(ctx, j.ID)
	if res.Success {
		t.Fatalf("result = %+v", res)
	}
	if ls := f.logs(t, j.ID); len(ls) != 1 || ls[0].Status != jobs.LogCancelled {
		t.Fatalf("logs = %+v", ls)
	}
}

func TestDisabledMidRunStaysInactive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	var j jobs.CronJob
	f.register(t, "toggles", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		_, err := f.exec.Toggle(context.Background(), j.ID, false)
		return nil, err
	})
	j = f.createJob(t, "toggles", nil)

	if res := f.exec.Execute(context.Background(), j.ID); !res.Success {
		t.Fatalf("result = %+v", res)
	}
	got, _ := f.exec.Get(context.Background(), j.ID)
	if got.Enabled || got.Status != jobs.JobInactive || got.LastRunAt == nil {
		t.Fatalf("job = %+v", got)
	}
}

// gatedStore runs onGet once, after the first GetJob returns.
type gatedStore struct {
	storage.Store
	once  sync.Once
	onGet func()
}

func (s *gatedStore) GetJob(ctx context.Context, id string) (jobs.CronJob, error) {
	j, err := s.Store.GetJob(ctx, id)
	s.once.Do(s.onGet)
	return j, err
}

func TestToggleWaitsForExecuteAdmission(t *testing.T) {
	t.Parallel()
	store := &gatedStore{Store: storage.NewMemory()}
	reg := NewRegistry()
	exec := New(Config{Location: time.UTC, RetryBase: time.Millisecond}, store, reg, logx.Nop(), nil, nil)
	var calls atomic.Int32
	if err := reg.Register("count", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		calls.Add(1)
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	j, err := exec.Create(context.Background(), jobs.CreateParams{Name: "count", CronExpression: "* * * * *", FunctionName: "count"})
	if err != nil {
		t.Fatal(err)
	}

	toggled := make(chan error, 1)
	var committedEarly bool
	store.onGet = func() {
		go func() {
			_, err := exec.Toggle(context.Background(), j.ID, false)
			toggled <- err
		}()
		select {
		case <-toggled:
			committedEarly = true
		case <-time.After(100 * time.Millisecond):
		}
	}

	res := exec.Execute(context.Background(), j.ID)
	if committedEarly {
		t.Fatalf("toggle committed between the enabled check and dispatch; result = %+v", res)
	}
	if err := <-toggled; err != nil {
		t.Fatal(err)
	}
	if !res.Success || calls.Load() != 1 {
		t.Fatalf("result = %+v, calls = %d", res, calls.Load())
	}

	again := exec.Execute(context.Background(), j.ID)
	if again.Success || again.Kind != jobs.KindDisabled || calls.Load() != 1 {
		t.Fatalf("run after disable = %+v, calls = %d", again, calls.Load())
	}
	if exec.IsRunning(j.ID) {
		t.Fatal("run slot not released after rejection")
	}
	ls, _ := exec.Logs(context.Background(), j.ID, 0)
	if len(ls) != 1 {
		t.Fatalf("logs = %d, want 1", len(ls))
	}
}

func TestUpdateRecomputesNextRunOnExpressionChange(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	j := f.createJob(t, "noop", nil)

	name := "renamed"
	got, err := f.exec.Update(context.Background(), j.ID, jobs.UpdateParams{Name: &name})
	if err != nil {
		t.Fatal(err)
	}
	if !got.NextRunAt.Equal(*j.NextRunAt) || got.Name != "renamed" {
		t.Fatalf("unrelated update moved next run: %+v", got)
	}

	expr := "0 3 * * *"
	got, err = f.exec.Update(context.Background(), j.ID, jobs.UpdateParams{CronExpression: &expr})
	if err != nil {
		t.Fatal(err)
	}
	if got.NextRunAt.Hour() != 3 || got.NextRunAt.Minute() != 0 {
		t.Fatalf("next_run_at = %v", got.NextRunAt)
	}

	bad := "0 3 * *"
	if _, err := f.exec.Update(context.Background(), j.ID, jobs.UpdateParams{CronExpression: &bad}); !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	if _, err := f.exec.Update(context.Background(), "missing", jobs.UpdateParams{Name: &name}); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestToggleLeavesNextRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	j := f.createJob(t, "noop", nil)

	off, err := f.exec.Toggle(context.Background(), j.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if off.Enabled || off.Status != jobs.JobInactive || !off.NextRunAt.Equal(*j.NextRunAt) {
		t.Fatalf("toggled off = %+v", off)
	}
	on, _ := f.exec.Toggle(context.Background(), j.ID, true)
	if !on.Enabled || on.Status != jobs.JobActive {
		t.Fatalf("toggled on = %+v", on)
	}
}

func TestDeleteRemovesJobAndLogs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.register(t, "echo", ok)
	j := f.createJob(t, "echo", nil)
	f.exec.Execute(context.Background(), j.ID)
	f.exec.Execute(context.Background(), j.ID)

	if err := f.exec.Delete(context.Background(), j.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.exec.Get(context.Background(), j.ID); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
	if n := len(f.logs(t, j.ID)); n != 0 {
		t.Fatalf("logs left = %d", n)
	}
	if err := f.exec.Delete(context.Background(), j.ID); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestParallelExecutionsOfDifferentJobs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.register(t, "echo", ok)
	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, f.createJob(t, "echo", nil).ID)
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if res := f.exec.Execute(context.Background(), id); !res.Success {
				t.Errorf("job %s: %+v", id, res)
			}
		}(id)
	}
	wg.Wait()
	if n := len(f.logs(t, "")); n != len(ids) {
		t.Fatalf("logs = %d", n)
	}
}

func TestScheduledTaskRunsOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	var calls atomic.Int32
	f.register(t, "once", func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		calls.Add(1)
		return map[string]any{"ok": true}, nil
	})

	task, err := f.exec.CreateScheduledTask(context.Background(), jobs.TaskParams{
		Name:         "one-off",
		FunctionName: "once",
		ScheduledFor: time.Now().Add(-time.Minute),
		Priority:     jobs.PriorityHigh,
	})
	if err != nil {
		t.Fatal(err)
	}
	due, _ := f.exec.DueTasks(context.Background(), time.Now(), 10)
	if len(due) != 1 || due[0].ID != task.ID {
		t.Fatalf("due = %+v", due)
	}

	res := f.exec.RunScheduledTask(context.Background(), task.ID)
	if !res.Success || res.Output["ok"] != true {
		t.Fatalf("result = %+v", res)
	}
	again := f.exec.RunScheduledTask(context.Background(), task.ID)
	if again.Success || again.Kind != jobs.KindAlreadyRunning || calls.Load() != 1 {
		t.Fatalf("second run = %+v, calls = %d", again, calls.Load())
	}

	got, _ := f.exec.GetScheduledTask(context.Background(), task.ID)
	if got.Status != jobs.TaskCompleted || got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("task = %+v", got)
	}
	if due, _ := f.exec.DueTasks(context.Background(), time.Now(), 10); len(due) != 0 {
		t.Fatalf("completed task still due: %+v", due)
	}
}

func TestScheduledTaskFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	task, err := f.exec.CreateScheduledTask(context.Background(), jobs.TaskParams{
		Name:         "ghost",
		FunctionName: "nope",
		ScheduledFor: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	res := f.exec.RunScheduledTask(context.Background(), task.ID)
	if res.Success || res.Kind != jobs.KindNotRegistered {
		t.Fatalf("result = %+v", res)
	}
	got, _ := f.exec.GetScheduledTask(context.Background(), task.ID)
	if got.Status != jobs.TaskFailed || got.ErrorMessage == "" {
		t.Fatalf("task = %+v", got)
	}
	if res := f.exec.RunScheduledTask(context.Background(), "missing"); res.Kind != jobs.KindNotFound {
		t.Fatalf("missing task: %+v", res)
	}
}
