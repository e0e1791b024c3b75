package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/cron.db
executor:
  default_timeout: 2m
  timezone: UTC
sweeper:
  enabled: true
  schedule: "@every 10s"
  concurrency: 2
health:
  recent_window: 30
http:
  enabled: true
  addr: 127.0.0.1:9090
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("cronsmith.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Executor.DefaultTimeout != "2m" || !cfg.Sweeper.Enabled {
		t.Fatalf("unexpected decode: %+v", cfg)
	}
	if cfg.Health.RecentWindow != 30 || cfg.HTTP.Addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected decode: %+v", cfg)
	}

	js := `{"storage":{"driver":"memory"},"sweeper":{"enabled":false}}`
	cfg, err = Decode("cronsmith.json", []byte(js))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"telegram":{}}`)); err == nil {
		t.Fatal("unknown section accepted")
	}
	if _, err := Decode("c.yaml", []byte("storage:\n  drvier: sqlite\n")); err == nil {
		t.Fatal("unknown yaml key accepted")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("trailing data: err = %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Minute)
	if err != nil || d != 5*time.Minute {
		t.Fatalf("default: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "1500ms", time.Second)
	if err != nil || d != 1500*time.Millisecond {
		t.Fatalf("parse: %v %v", d, err)
	}
	if _, err := ParseDurationField("executor.default_timeout", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
	if _, err := ParseDurationField("executor.default_timeout", "soon"); err == nil || !strings.Contains(err.Error(), "executor.default_timeout") {
		t.Fatalf("error should name the key: %v", err)
	}
	if _, err := ParseLocation("executor.timezone", "Mars/Olympus"); err == nil {
		t.Fatal("bad zone accepted")
	}
	if loc, err := ParseLocation("executor.timezone", ""); err != nil || loc != time.Local {
		t.Fatalf("empty zone: %v %v", loc, err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Storage: StorageConfig{Driver: "sqlite", Path: "a.db"}}
	newCfg := &Config{
		Storage: StorageConfig{Driver: "postgres", DSN: "postgres://u:secret@h/db"},
		Sweeper: SweeperConfig{Enabled: true},
	}
	sections, attrs := SummarizeChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "storage,sweeper" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(sections); len(got) != 1 || got[0] != "storage" {
		t.Fatalf("restart required = %v", got)
	}
	if s, _ := SummarizeChange(newCfg, newCfg); len(s) != 0 {
		t.Fatalf("identical configs reported changes: %v", s)
	}
}

func TestManagerReloadValidatesAndPublishes(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cronsmith.json")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"sweeper":{"enabled":false}}`)

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Sweeper.Concurrency < 0 {
			return errors.New("sweeper.concurrency must be >= 0")
		}
		return nil
	})
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Unchanged content is not republished.
	m.reload(context.Background())
	select {
	case <-sub:
		t.Fatal("unchanged config published")
	default:
	}

	write(`{"sweeper":{"enabled":true,"concurrency":-1}}`)
	m.reload(context.Background())
	select {
	case <-sub:
		t.Fatal("invalid config published")
	default:
	}
	if m.Get().Sweeper.Enabled {
		t.Fatal("invalid config committed")
	}

	write(`{"sweeper":{"enabled":true,"concurrency":3}}`)
	m.reload(context.Background())
	select {
	case cfg := <-sub:
		if cfg.Sweeper.Concurrency != 3 {
			t.Fatalf("published %+v", cfg.Sweeper)
		}
	default:
		t.Fatal("valid config not published")
	}
	if !m.Get().Sweeper.Enabled {
		t.Fatal("valid config not committed")
	}
}
