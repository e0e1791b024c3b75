package health

import (
	"context"
	"sync"
	"time"

	"cronsmith/internal/eventbus"
	"cronsmith/internal/metrics"
	logx "cronsmith/pkg/logx"
)

// Watcher re-evaluates health after job outcomes and reports verdict changes
// on the bus, in the log and as a gauge.
type Watcher struct {
	mon     *Monitor
	bus     eventbus.Bus
	log     logx.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	last Report
}

func NewWatcher(mon *Monitor, bus eventbus.Bus, log logx.Logger, m *metrics.Metrics) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{mon: mon, bus: bus, log: log, metrics: m, last: Report{Status: Healthy}}
}

// Last is the most recent verdict.
func (w *Watcher) Last() Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Run blocks until ctx is done. Evaluation happens once at start and after
// each job.completed, job.failed or task.failed event.
func (w *Watcher) Run(ctx context.Context) error {
	events, unsubscribe := w.bus.Subscribe(64)
	defer unsubscribe()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case eventbus.JobCompleted, eventbus.JobFailed, eventbus.TaskFailed:
				w.Check(ctx)
			}
		}
	}
}

// Check evaluates now and publishes health.changed when the level moved.
func (w *Watcher) Check(ctx context.Context) Report {
	rep, err := w.mon.Status(ctx)
	if err != nil {
		w.log.Warn("health check failed", logx.Err(err))
		return w.Last()
	}

	w.mu.Lock()
	prev := w.last
	w.last = rep
	w.mu.Unlock()

	w.metrics.SetHealth(rep.Status.Severity())
	if prev.Status == rep.Status {
		return rep
	}
	fields := []logx.Field{
		logx.String("from", string(prev.Status)),
		logx.String("to", string(rep.Status)),
		logx.Any("issues", rep.Issues),
	}
	if rep.Status.Severity() > prev.Status.Severity() {
		w.log.Warn("health degraded", fields...)
	} else {
		w.log.Info("health recovered", fields...)
	}
	w.bus.Publish(eventbus.Event{
		Type: eventbus.HealthChanged,
		Time: time.Now(),
		Data: eventbus.HealthEvent{From: string(prev.Status), To: string(rep.Status), Issues: rep.Issues},
	})
	return rep
}
