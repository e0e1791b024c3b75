// Package app wires storage, execution, the sweeper, health watching and the
// HTTP API into one process with live config reload.
package app

import (
	"context"
	"fmt"
	"time"

	"cronsmith/internal/config"
	"cronsmith/internal/eventbus"
	"cronsmith/internal/executor"
	"cronsmith/internal/health"
	"cronsmith/internal/httpapi"
	"cronsmith/internal/metrics"
	"cronsmith/internal/pipeline"
	"cronsmith/internal/runtime/supervisor"
	"cronsmith/internal/storage"
	"cronsmith/internal/sweeper"
	"cronsmith/internal/workfn"
	logx "cronsmith/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus       eventbus.Bus
	store     storage.Store
	metrics   *metrics.Metrics
	exec      *executor.Executor
	pipelines *pipeline.Runner
	monitor   *health.Monitor
	watcher   *health.Watcher
	sweeper   *sweeper.Sweeper
	httpSrv   *httpapi.Server
}

// New loads the config file and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	a, err := build(cfg, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logs
	return a, nil
}

func build(cfg *config.Config, log logx.Logger) (*App, error) {
	sc, _ := mapStorageConfig(cfg)
	ec, _ := mapExecutorConfig(cfg)
	swc, _ := mapSweeperConfig(cfg)
	hc, _ := mapHealthConfig(cfg)
	gen, _ := mapGenerator(cfg)

	store, err := storage.Open(sc, log.With(logx.Component("storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()
	m := metrics.New()
	pipelines := pipeline.New(pipeline.Config{HistorySize: cfg.Executor.PipelineHistory},
		log.With(logx.Component("pipeline")), m)

	reg := executor.NewRegistry()
	deps := workfn.Deps{
		Store:     store,
		Pipelines: pipelines,
		Generator: gen,
		Log:       log.With(logx.Component("workfn")),
	}
	if err := workfn.Register(reg, deps); err != nil {
		_ = store.Close()
		return nil, err
	}

	exec := executor.New(ec, store, reg, log.With(logx.Component("executor")), bus, m)
	monitor := health.NewMonitor(store, hc)

	a := &App{
		log:       log,
		bus:       bus,
		store:     store,
		metrics:   m,
		exec:      exec,
		pipelines: pipelines,
		monitor:   monitor,
		watcher:   health.NewWatcher(monitor, bus, log.With(logx.Component("health")), m),
		sweeper:   sweeper.New(swc, exec, log.With(logx.Component("sweeper")), m),
	}
	if cfg.HTTP.Enabled {
		hcfg, _ := mapHTTPConfig(cfg)
		handler := httpapi.NewHandler(a, httpapi.Options{
			Token:   cfg.HTTP.Token,
			Pprof:   cfg.HTTP.Pprof,
			Metrics: m.Handler(),
		}, log.With(logx.Component("http")))
		a.httpSrv = httpapi.NewServer(hcfg, handler, log.With(logx.Component("http")))
	}
	return a, nil
}

// Registry exposes the function registry so callers can add their own work
// functions before Start.
func (a *App) Registry() *executor.Registry { return a.exec.Registry() }

// HTTPAddr is the API listen address, empty when the API is disabled.
func (a *App) HTTPAddr() string {
	if a.httpSrv == nil {
		return ""
	}
	return a.httpSrv.Addr()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(validate)

	if a.httpSrv != nil {
		if err := a.httpSrv.Start(); err != nil {
			a.sup.Cancel()
			return fmt.Errorf("http api: %w", err)
		}
	}
	if err := a.sweeper.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	a.sup.GoRestart("health.watch", a.watcher.Run)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// Debug level; sweeps can be frequent.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startNotify()
	a.log.Info("app started",
		logx.Bool("sweeper", a.sweeper.Enabled()),
		logx.String("http_addr", a.HTTPAddr()),
		logx.Any("functions", a.exec.Registry().Names()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping()

	// Cancel first so background loops unwind while the steps run.
	a.sup.Cancel()

	step(ctx, a.log, "http", 3*time.Second, func(c context.Context) error {
		if a.httpSrv != nil {
			return a.httpSrv.Stop(c)
		}
		return nil
	})
	step(ctx, a.log, "sweeper", 5*time.Second, a.sweeper.Stop)
	step(ctx, a.log, "supervisor", 2*time.Second, a.sup.Wait)
	step(ctx, a.log, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs fn bounded by limit and never past the caller's deadline.
func step(ctx context.Context, log logx.Logger, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			fields := []logx.Field{logx.String("name", name), logx.Duration("took", time.Since(start))}
			if err != nil {
				fields = append(fields, logx.Err(err))
			}
			log.Info("stop step finished after deadline", fields...)
		}()
	}
}
