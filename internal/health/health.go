// Package health aggregates execution history into job stats and a
// healthy/warning/critical verdict. It only reads from the store.
package health

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"cronsmith/internal/jobs"
	"cronsmith/internal/storage"
)

type Level string

const (
	Healthy  Level = "healthy"
	Warning  Level = "warning"
	Critical Level = "critical"
)

// Severity orders levels; higher is worse.
func (l Level) Severity() int {
	switch l {
	case Warning:
		return 1
	case Critical:
		return 2
	default:
		return 0
	}
}

func worst(a, b Level) Level {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

const (
	DefaultRecentWindow = 20
	DefaultStatsWindow  = 10

	criticalBelow   = 50
	warningBelow    = 80
	maxRecentFailed = 5
)

type Config struct {
	// RecentWindow is how many of the newest logs feed the failure count.
	RecentWindow int
	// StatsWindow is how many of the newest logs feed the success rate.
	StatsWindow int
}

func (c Config) withDefaults() Config {
	if c.RecentWindow <= 0 {
		c.RecentWindow = DefaultRecentWindow
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = DefaultStatsWindow
	}
	return c
}

type Stats struct {
	TotalJobs      int                 `json:"total_jobs"`
	ActiveJobs     int                 `json:"active_jobs"`
	SuccessRate    int                 `json:"success_rate"`
	LastExecutions []jobs.ExecutionLog `json:"last_executions"`
}

type Report struct {
	Status            Level      `json:"status"`
	Issues            []string   `json:"issues"`
	LastSuccessfulRun *time.Time `json:"last_successful_run"`
}

// Reader is the slice of the store the monitor needs.
type Reader interface {
	ListJobs(ctx context.Context) ([]jobs.CronJob, error)
	ListLogs(ctx context.Context, jobID string, limit int) ([]jobs.ExecutionLog, error)
}

var _ Reader = (storage.Store)(nil)

type Monitor struct {
	store Reader

	mu  sync.RWMutex
	cfg Config
}

func NewMonitor(store Reader, cfg Config) *Monitor {
	return &Monitor{store: store, cfg: cfg.withDefaults()}
}

// Apply swaps the window sizes used by later reports.
func (m *Monitor) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

func (m *Monitor) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Stats counts jobs and computes the success rate over the newest StatsWindow logs.
func (m *Monitor) Stats(ctx context.Context) (Stats, error) {
	all, err := m.store.ListJobs(ctx)
	if err != nil {
		return Stats{}, err
	}
	logs, err := m.store.ListLogs(ctx, "", m.config().StatsWindow)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{TotalJobs: len(all), SuccessRate: successRate(logs), LastExecutions: logs}
	for _, j := range all {
		if j.Enabled {
			st.ActiveJobs++
		}
	}
	if st.LastExecutions == nil {
		st.LastExecutions = []jobs.ExecutionLog{}
	}
	return st, nil
}

// Status applies every rule independently and keeps the worst level.
// With no jobs and no logs the verdict is healthy.
func (m *Monitor) Status(ctx context.Context) (Report, error) {
	st, err := m.Stats(ctx)
	if err != nil {
		return Report{}, err
	}
	recent, err := m.store.ListLogs(ctx, "", m.config().RecentWindow)
	if err != nil {
		return Report{}, err
	}
	return evaluate(st, recent), nil
}

func evaluate(st Stats, recent []jobs.ExecutionLog) Report {
	r := Report{Status: Healthy, Issues: []string{}}

	if len(st.LastExecutions) > 0 {
		switch {
		case st.SuccessRate < criticalBelow:
			r.Status = worst(r.Status, Critical)
			r.Issues = append(r.Issues, fmt.Sprintf("low success rate (%d%%)", st.SuccessRate))
		case st.SuccessRate < warningBelow:
			r.Status = worst(r.Status, Warning)
			r.Issues = append(r.Issues, fmt.Sprintf("moderate success rate (%d%%)", st.SuccessRate))
		}
	}

	failed := 0
	for _, l := range recent {
		if l.Status == jobs.LogFailed {
			failed++
		}
	}
	if failed > maxRecentFailed {
		r.Status = worst(r.Status, Warning)
		r.Issues = append(r.Issues, fmt.Sprintf("%d failures in last %d executions", failed, len(recent)))
	}

	if disabled := st.TotalJobs - st.ActiveJobs; st.TotalJobs > 0 && disabled > 0 {
		r.Status = worst(r.Status, Warning)
		r.Issues = append(r.Issues, fmt.Sprintf("%d of %d jobs disabled", disabled, st.TotalJobs))
	}

	for _, l := range recent {
		if l.Status == jobs.LogCompleted {
			at := l.FinishedAt()
			r.LastSuccessfulRun = &at
			break
		}
	}
	return r
}

// successRate is the rounded percentage of completed logs, 0 when there are none.
func successRate(logs []jobs.ExecutionLog) int {
	if len(logs) == 0 {
		return 0
	}
	ok := 0
	for _, l := range logs {
		if l.Status == jobs.LogCompleted {
			ok++
		}
	}
	return int(math.Round(float64(ok) * 100 / float64(len(logs))))
}
