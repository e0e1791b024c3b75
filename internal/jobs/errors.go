package jobs

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")

	// ErrDisabled rejects a run request; no execution attempt is made.
	ErrDisabled = errors.New("job is disabled: enable the job first")

	// ErrAlreadyRunning rejects a second concurrent run of the same job.
	ErrAlreadyRunning = errors.New("job is already running")

	// ErrJobRunning rejects deleting a job while it executes.
	ErrJobRunning = errors.New("job is currently executing")

	ErrTimeout = errors.New("timeout")

	ErrNotRegistered = errors.New("work function not registered")
)

// ValidationError reports bad input caught before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a job or task id that does not exist.
type NotFoundError struct {
	Kind string // "job" | "task" | "log"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ExecutionError is a failure reported (or raised) by a work function.
type ExecutionError struct {
	Function string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("work function %q failed: %v", e.Function, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError means the work function outlived its budget.
type TimeoutError struct {
	Function string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: work function %q exceeded %s", e.Function, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// StorageError wraps a failure of the persistence backend. It is never swallowed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError unless it already carries a typed
// not-found or storage error.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.Is(err, ErrNotFound) || errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// KindOf classifies err for execution results and logs.
func KindOf(err error) ErrorKind {
	var (
		se *StorageError
		ee *ExecutionError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.As(err, &ee):
		return KindExecution
	case errors.Is(err, ErrNotRegistered):
		return KindNotRegistered
	case errors.Is(err, ErrDisabled):
		return KindDisabled
	case errors.Is(err, ErrAlreadyRunning):
		return KindAlreadyRunning
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &se):
		return KindStorage
	default:
		return KindExecution
	}
}
