package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	logx "cronsmith/pkg/logx"
)

func newRunner(size int) *Runner {
	return New(Config{HistorySize: size}, logx.Nop(), nil)
}

func TestRunAllStagesComplete(t *testing.T) {
	t.Parallel()
	r := newRunner(0)
	var order []string
	stage := func(name string) Stage {
		return Stage{Name: name, Run: func(ctx context.Context, pctx Context) error {
			order = append(order, name)
			pctx[name] = true
			return nil
		}}
	}
	pctx := Context{}
	exec := r.Run(context.Background(), []Stage{stage("generate"), stage("store")}, pctx)

	if exec.Status != StatusCompleted || exec.Error != "" {
		t.Fatalf("exec = %+v", exec)
	}
	if len(exec.Stages) != 2 || exec.Stages[0].ID != "generate" || exec.Stages[1].ID != "store" {
		t.Fatalf("stages = %+v", exec.Stages)
	}
	for _, s := range exec.Stages {
		if s.Status != StatusCompleted || s.CompletedAt == nil {
			t.Fatalf("stage %s = %+v", s.ID, s)
		}
	}
	if fmt.Sprint(order) != "[generate store]" || pctx["store"] != true {
		t.Fatalf("order = %v, pctx = %v", order, pctx)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	r := newRunner(0)
	ran := map[string]bool{}
	mk := func(name string, err error) Stage {
		return Stage{Name: name, Run: func(ctx context.Context, pctx Context) error {
			ran[name] = true
			return err
		}}
	}
	exec := r.Run(context.Background(), []Stage{
		mk("a", nil),
		mk("b", errors.New("generator unavailable")),
		mk("c", nil),
	}, nil)

	if exec.Status != StatusFailed || exec.Error != "generator unavailable" {
		t.Fatalf("exec = %+v", exec)
	}
	if len(exec.Stages) != 2 {
		t.Fatalf("later stages recorded: %+v", exec.Stages)
	}
	if exec.Stages[0].Status != StatusCompleted || exec.Stages[1].Status != StatusFailed {
		t.Fatalf("stage statuses: %+v", exec.Stages)
	}
	if exec.Stages[1].Error != "generator unavailable" || exec.FailedStage() != "b" {
		t.Fatalf("stage error: %+v", exec.Stages[1])
	}
	if ran["c"] {
		t.Fatal("stage after failure ran")
	}
}

func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()
	r := newRunner(0)
	exec := r.Run(context.Background(), []Stage{
		{Name: "boom", Run: func(ctx context.Context, pctx Context) error { panic("kaboom") }},
	}, nil)
	if exec.Status != StatusFailed || exec.Stages[0].Error != "panic: kaboom" {
		t.Fatalf("exec = %+v", exec)
	}
}

func TestRunCanceledContextFailsNextStage(t *testing.T) {
	t.Parallel()
	r := newRunner(0)
	ctx, cancel := context.WithCancel(context.Background())
	exec := r.Run(ctx, []Stage{
		{Name: "first", Run: func(ctx context.Context, pctx Context) error { cancel(); return nil }},
		{Name: "second", Run: func(ctx context.Context, pctx Context) error {
			t.Error("second stage must not run")
			return nil
		}},
	}, nil)
	if exec.Status != StatusFailed || len(exec.Stages) != 2 || exec.Stages[1].Status != StatusFailed {
		t.Fatalf("exec = %+v", exec)
	}
	if !errors.Is(ctx.Err(), context.Canceled) || exec.Stages[1].Error != context.Canceled.Error() {
		t.Fatalf("stage error = %q", exec.Stages[1].Error)
	}
}

func TestEveryRunGetsFreshExecution(t *testing.T) {
	t.Parallel()
	r := newRunner(0)
	stages := []Stage{{Name: "x", Run: func(ctx context.Context, pctx Context) error { return nil }}}
	a := r.Run(context.Background(), stages, nil)
	b := r.Run(context.Background(), stages, nil)
	if a.ID == b.ID {
		t.Fatal("execution ids reused")
	}
	got, ok := r.Execution(a.ID)
	if !ok || got.Status != StatusCompleted {
		t.Fatalf("lookup = %+v %v", got, ok)
	}
	all := r.Executions()
	if len(all) != 2 || all[0].ID != b.ID {
		t.Fatalf("executions newest first: %+v", all)
	}

	// Returned values are copies.
	all[0].Stages[0].Status = StatusFailed
	again, _ := r.Execution(b.ID)
	if again.Stages[0].Status != StatusCompleted {
		t.Fatal("history mutated through a returned copy")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	r := newRunner(3)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, r.Run(context.Background(), nil, nil).ID)
	}
	if n := len(r.Executions()); n != 3 {
		t.Fatalf("history = %d, want 3", n)
	}
	if _, ok := r.Execution(ids[0]); ok {
		t.Fatal("oldest execution should be evicted")
	}
	if _, ok := r.Execution(ids[4]); !ok {
		t.Fatal("newest execution missing")
	}
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	t.Parallel()
	r := newRunner(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fail := i%2 == 0
			exec := r.Run(context.Background(), []Stage{{Name: "s", Run: func(ctx context.Context, pctx Context) error {
				if fail {
					return errors.New("fail")
				}
				return nil
			}}}, Context{})
			want := StatusCompleted
			if fail {
				want = StatusFailed
			}
			if exec.Status != want {
				t.Errorf("run %d: status %s, want %s", i, exec.Status, want)
			}
		}(i)
	}
	wg.Wait()
	if n := len(r.Executions()); n != 8 {
		t.Fatalf("executions = %d", n)
	}
}
