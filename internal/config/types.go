package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Executor ExecutorConfig `json:"executor"`
	Sweeper  SweeperConfig  `json:"sweeper"`
	Health   HealthConfig   `json:"health"`
	HTTP     HTTPConfig     `json:"http"`
	Content  ContentConfig  `json:"content"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"` // console as JSON lines
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/cronsmith.db" }
//
// Changes require a restart.
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"` // postgres; never logged
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// ExecutorConfig controls job execution.
//
// Defaults (when omitted/zero):
//   - default_timeout: "5m" (used when a job has no timeout_seconds)
//   - timezone: local
//   - retry_base: "500ms", retry_max_delay: "15s"
//   - pipeline_history: 200
type ExecutorConfig struct {
	DefaultTimeout  string `json:"default_timeout,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	PipelineHistory int    `json:"pipeline_history,omitempty"`
}

// SweeperConfig controls automatic dispatch of due jobs and tasks.
//
// Defaults: schedule "@every 30s", concurrency 4, batch_size 50, no rate limit.
type SweeperConfig struct {
	Enabled     bool    `json:"enabled"`
	Schedule    string  `json:"schedule,omitempty"`
	Concurrency int     `json:"concurrency,omitempty"`
	BatchSize   int     `json:"batch_size,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	Burst       int     `json:"burst,omitempty"`
}

// HealthConfig sizes the windows used by the health report. Defaults: 20 and 10.
type HealthConfig struct {
	RecentWindow int `json:"recent_window,omitempty"`
	StatsWindow  int `json:"stats_window,omitempty"`
}

// HTTPConfig controls the JSON API server.
//
// Security note: the API has no authentication beyond an optional bearer token.
// Prefer binding to localhost.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default "127.0.0.1:8080"
	Token        string `json:"token,omitempty"`
	Pprof        bool   `json:"pprof,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// ContentConfig configures the content generation collaborator.
// With an empty generator_url the content pipeline fails its generation stage.
type ContentConfig struct {
	GeneratorURL string `json:"generator_url,omitempty"`
	APIKey       string `json:"api_key,omitempty"` // never logged
	Timeout      string `json:"timeout,omitempty"`
}
