package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cronsmith/internal/config"
	"cronsmith/internal/executor"
	"cronsmith/internal/health"
	"cronsmith/internal/httpapi"
	"cronsmith/internal/storage"
	"cronsmith/internal/sweeper"
	"cronsmith/internal/workfn"
	logx "cronsmith/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, MaxOpenConns: sc.MaxOpenConns}, nil
	case "postgres", "postgresql":
		dsn := strings.TrimSpace(sc.DSN)
		if dsn == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		if sc.MaxOpenConns < 0 {
			return storage.Config{}, fmt.Errorf("storage.max_open_conns must be >= 0")
		}
		return storage.Config{Driver: "postgres", DSN: dsn, MaxOpenConns: sc.MaxOpenConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapExecutorConfig(cfg *config.Config) (executor.Config, error) {
	ec := cfg.Executor
	timeout, err := config.ParseDurationOrDefault("executor.default_timeout", ec.DefaultTimeout, executor.DefaultTimeout)
	if err != nil {
		return executor.Config{}, err
	}
	loc, err := config.ParseLocation("executor.timezone", ec.Timezone)
	if err != nil {
		return executor.Config{}, err
	}
	base, err := config.ParseDurationField("executor.retry_base", ec.RetryBase)
	if err != nil {
		return executor.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("executor.retry_max_delay", ec.RetryMaxDelay)
	if err != nil {
		return executor.Config{}, err
	}
	if ec.PipelineHistory < 0 {
		return executor.Config{}, fmt.Errorf("executor.pipeline_history must be >= 0")
	}
	return executor.Config{
		DefaultTimeout: timeout,
		Location:       loc,
		RetryBase:      base,
		RetryMaxDelay:  maxDelay,
	}, nil
}

func mapSweeperConfig(cfg *config.Config) (sweeper.Config, error) {
	sc := cfg.Sweeper
	switch {
	case sc.Concurrency < 0:
		return sweeper.Config{}, fmt.Errorf("sweeper.concurrency must be >= 0")
	case sc.BatchSize < 0:
		return sweeper.Config{}, fmt.Errorf("sweeper.batch_size must be >= 0")
	case sc.RatePerSec < 0:
		return sweeper.Config{}, fmt.Errorf("sweeper.rate_per_sec must be >= 0")
	case sc.Burst < 0:
		return sweeper.Config{}, fmt.Errorf("sweeper.burst must be >= 0")
	}
	out := sweeper.Config{
		Enabled:     sc.Enabled,
		Schedule:    strings.TrimSpace(sc.Schedule),
		Concurrency: sc.Concurrency,
		BatchSize:   sc.BatchSize,
		RatePerSec:  sc.RatePerSec,
		Burst:       sc.Burst,
	}
	if out.Schedule != "" {
		if err := sweeper.ParseSchedule(out.Schedule); err != nil {
			return sweeper.Config{}, err
		}
	}
	return out, nil
}

func mapHealthConfig(cfg *config.Config) (health.Config, error) {
	hc := cfg.Health
	if hc.RecentWindow < 0 || hc.StatsWindow < 0 {
		return health.Config{}, fmt.Errorf("health windows must be >= 0")
	}
	return health.Config{RecentWindow: hc.RecentWindow, StatsWindow: hc.StatsWindow}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationField("http.read_timeout", hc.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", hc.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationField("http.idle_timeout", hc.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         strings.TrimSpace(hc.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

// mapGenerator returns nil when no generator URL is configured.
func mapGenerator(cfg *config.Config) (workfn.Generator, error) {
	cc := cfg.Content
	timeout, err := config.ParseDurationOrDefault("content.timeout", cc.Timeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	url := strings.TrimSpace(cc.GeneratorURL)
	if url == "" {
		return nil, nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("content.generator_url must be an http(s) URL")
	}
	return &workfn.HTTPGenerator{
		URL:    url,
		APIKey: strings.TrimSpace(cc.APIKey),
		Client: &http.Client{Timeout: timeout},
	}, nil
}

// validate checks every section the way New would consume it.
func validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapExecutorConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSweeperConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHealthConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapGenerator(cfg); err != nil {
		return err
	}
	return nil
}
