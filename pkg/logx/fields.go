package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field mutates a zerolog event. Fields are applied in order; if the same
// key is set twice, the later one wins.
type Field func(e *zerolog.Event)

func String(k, v string) Field  { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field {
	return func(e *zerolog.Event) { e.Int64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Float64(k string, v float64) Field {
	return func(e *zerolog.Event) { e.Float64(k, v) }
}
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }

func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

func Stack(stack string) Field {
	return func(e *zerolog.Event) {
		if strings.TrimSpace(stack) != "" {
			e.Str("stack", stack)
		}
	}
}

// Correlation keys shared by every component, so one job can be followed
// across executor, sweeper and pipeline lines.
const (
	KeyComponent   = "comp"
	KeyJobID       = "job_id"
	KeyTaskID      = "task_id"
	KeyExecutionID = "execution_id"
	KeyLogID       = "log_id"
)

func Component(name string) Field { return String(KeyComponent, name) }
func JobID(id string) Field       { return optional(KeyJobID, id) }
func TaskID(id string) Field      { return optional(KeyTaskID, id) }
func ExecutionID(id string) Field { return optional(KeyExecutionID, id) }
func LogID(id string) Field       { return optional(KeyLogID, id) }

// optional skips empty ids instead of writing blank keys.
func optional(k, v string) Field {
	return func(e *zerolog.Event) {
		if v != "" {
			e.Str(k, v)
		}
	}
}
