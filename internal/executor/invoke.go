package executor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/cenkalti/backoff/v4"

	"cronsmith/internal/jobs"
	logx "cronsmith/pkg/logx"
)

// call describes one invocation: a work function, its input and its budget.
type call struct {
	fn      WorkFunc
	name    string
	payload map[string]any
	budget  time.Duration
	retries int
	info    ExecutionInfo
}

// invoke runs c.fn until it succeeds, fails permanently, runs out of retries
// or exhausts the budget. Retries share the budget: a backoff wait that would
// outlast it ends the retries with the last error. Only a call cut by the
// deadline is a timeout. It returns the output, the number of attempts made
// and a typed error.
func (e *Executor) invoke(ctx context.Context, c call) (map[string]any, int, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryBase
	bo.MaxInterval = e.cfg.RetryMaxDelay
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(budgetBackOff{
		BackOff: backoff.WithMaxRetries(bo, uint64(max(c.retries, 0))),
		ctx:     runCtx,
	}, runCtx)

	var (
		out      map[string]any
		attempts int
		lastErr  error
		timedOut bool
	)
	op := func() error {
		attempts++
		info := c.info
		info.Attempt = attempts
		res, err := callOnce(withExecution(runCtx, info), c.fn, maps.Clone(c.payload))
		if err == nil {
			out = res
			return nil
		}
		if runCtx.Err() != nil {
			timedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
			return backoff.Permanent(err)
		}
		if IsPermanent(err) {
			lastErr = errors.Unwrap(err)
			return backoff.Permanent(lastErr)
		}
		lastErr = err
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.metrics.Retry()
		e.log.Debug("work function retry scheduled",
			logx.String("function", c.name),
			logx.Int("attempt", attempts+1),
			logx.Duration("delay", wait),
			logx.Err(err),
		)
	}

	err := backoff.RetryNotify(op, policy, notify)
	switch {
	case err == nil:
		return out, attempts, nil
	case ctx.Err() != nil:
		return nil, attempts, ctx.Err()
	case timedOut:
		return nil, attempts, &jobs.TimeoutError{Function: c.name, After: c.budget}
	case lastErr != nil:
		err = lastErr
	}
	var ee *jobs.ExecutionError
	if errors.As(err, &ee) {
		return nil, attempts, err
	}
	return nil, attempts, &jobs.ExecutionError{Function: c.name, Err: err}
}

// budgetBackOff stops when the next wait would not end before ctx's deadline.
type budgetBackOff struct {
	backoff.BackOff
	ctx context.Context
}

func (b budgetBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if dl, ok := b.ctx.Deadline(); ok && time.Until(dl) <= next {
		return backoff.Stop
	}
	return next
}

// callOnce runs fn in its own goroutine so a ctx deadline returns control even
// when fn ignores ctx. Panics become errors.
func callOnce(ctx context.Context, fn WorkFunc, payload map[string]any) (map[string]any, error) {
	type result struct {
		out map[string]any
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := fn(ctx, payload)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
