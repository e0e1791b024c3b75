package jobs

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCreateParamsValidate(t *testing.T) {
	t.Parallel()
	ok := CreateParams{Name: "daily post", CronExpression: "0 9 * * *", FunctionName: "content_pipeline"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	neg := -1
	tests := []struct {
		name  string
		mut   func(p *CreateParams)
		field string
	}{
		{"missing name", func(p *CreateParams) { p.Name = "  " }, "name"},
		{"missing function", func(p *CreateParams) { p.FunctionName = "" }, "function_name"},
		{"missing expression", func(p *CreateParams) { p.CronExpression = "" }, "cron_expression"},
		{"bad expression", func(p *CreateParams) { p.CronExpression = "0 24 * * *" }, "cron_expression"},
		{"four fields", func(p *CreateParams) { p.CronExpression = "0 9 * *" }, "cron_expression"},
		{"bad type", func(p *CreateParams) { p.JobType = "mining" }, "job_type"},
		{"negative retries", func(p *CreateParams) { p.RetryCount = &neg }, "retry_count"},
		{"negative timeout", func(p *CreateParams) { p.TimeoutSeconds = &neg }, "timeout_seconds"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			p := ok
			tt.mut(&p)
			err := p.Validate()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want validation error", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("field = %+v, want %s", ve, tt.field)
			}
		})
	}
}

func TestCreateParamsBuildDefaults(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	j := CreateParams{Name: " n ", CronExpression: " 0  9 * * * ", FunctionName: "fn"}.Build(now)
	if j.Name != "n" || j.CronExpression != "0 9 * * *" {
		t.Fatalf("not normalized: %+v", j)
	}
	if !j.Enabled || j.Status != JobActive {
		t.Fatalf("expected enabled active job, got enabled=%v status=%s", j.Enabled, j.Status)
	}
	if j.RetryCount != DefaultRetryCount || j.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Fatalf("defaults not applied: %+v", j)
	}
	if j.JobType != TypeCustom {
		t.Fatalf("JobType = %s, want custom", j.JobType)
	}
	if j.FunctionPayload == nil {
		t.Fatal("payload should be non-nil")
	}

	off := false
	j = CreateParams{Name: "n", CronExpression: "0 9 * * *", FunctionName: "fn", Enabled: &off}.Build(now)
	if j.Enabled || j.Status != JobInactive {
		t.Fatalf("disabled job: enabled=%v status=%s", j.Enabled, j.Status)
	}
}

func TestUpdateParamsApply(t *testing.T) {
	t.Parallel()
	now := time.Now()
	j := CreateParams{Name: "n", CronExpression: "0 9 * * *", FunctionName: "fn"}.Build(now)

	same := "0  9 * * *"
	if changed := (UpdateParams{CronExpression: &same}).Apply(&j, now); changed {
		t.Fatal("whitespace-only change should not count as expression change")
	}

	expr := "30 6 * * 1"
	off := false
	changed := UpdateParams{CronExpression: &expr, Enabled: &off}.Apply(&j, now)
	if !changed {
		t.Fatal("expected expression change")
	}
	if j.Enabled || j.Status != JobInactive {
		t.Fatalf("enabled=%v status=%s", j.Enabled, j.Status)
	}

	bad := "30 6 * * 9"
	if err := (UpdateParams{CronExpression: &bad}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestTaskParams(t *testing.T) {
	t.Parallel()
	if err := (TaskParams{Name: "x", FunctionName: "fn"}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing scheduled_for: err = %v", err)
	}
	p := TaskParams{Name: "x", FunctionName: "fn", ScheduledFor: time.Now()}
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	task := p.Build(time.Now())
	if task.Priority != PriorityNormal || task.Status != TaskPending {
		t.Fatalf("unexpected defaults: %+v", task)
	}
	if PriorityUrgent.Rank() <= PriorityLow.Rank() {
		t.Fatal("urgent must outrank low")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{&TimeoutError{Function: "f", After: time.Second}, KindTimeout},
		{fmt.Errorf("wrap: %w", ErrDisabled), KindDisabled},
		{ErrAlreadyRunning, KindAlreadyRunning},
		{&NotFoundError{Kind: "job", ID: "x"}, KindNotFound},
		{&StorageError{Op: "get", Err: errors.New("conn refused")}, KindStorage},
		{&ExecutionError{Function: "f", Err: errors.New("boom")}, KindExecution},
		{fmt.Errorf("%w: %q", ErrNotRegistered, "f"), KindNotRegistered},
		{errors.New("anything"), KindExecution},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestStorageWrapKeepsTypedErrors(t *testing.T) {
	t.Parallel()
	nf := &NotFoundError{Kind: "job", ID: "x"}
	if got := Storage("get", nf); got != nf {
		t.Fatalf("not-found should pass through, got %v", got)
	}
	err := Storage("get", errors.New("disk"))
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "get" {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if Storage("x", nil) != nil {
		t.Fatal("nil should stay nil")
	}
}
