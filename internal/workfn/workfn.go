package workfn

import (
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"

	"cronsmith/internal/executor"
	"cronsmith/internal/jobs"
	"cronsmith/internal/pipeline"
	logx "cronsmith/pkg/logx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Names of the built-in work functions.
const (
	ContentPipeline = "content_pipeline"
	CleanupLogs     = "cleanup_execution_logs"
	HTTPWebhook     = "http_webhook"
)

// Store is what the built-ins persist through.
type Store interface {
	SaveContent(ctx context.Context, c jobs.GeneratedContent) error
	PruneLogs(ctx context.Context, before time.Time) (int64, error)
}

// Deps are the collaborators of the built-ins. Generator may be nil; the
// content pipeline then fails permanently.
type Deps struct {
	Store     Store
	Pipelines *pipeline.Runner
	Generator Generator
	Client    *http.Client
	Log       logx.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Client == nil {
		d.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Register adds every built-in to reg.
func Register(reg *executor.Registry, d Deps) error {
	d = d.withDefaults()
	fns := map[string]executor.WorkFunc{
		ContentPipeline: contentPipeline(d),
		CleanupLogs:     cleanupLogs(d),
		HTTPWebhook:     httpWebhook(d),
	}
	for _, name := range []string{ContentPipeline, CleanupLogs, HTTPWebhook} {
		if err := reg.Register(name, fns[name]); err != nil {
			return err
		}
	}
	return nil
}

// decode maps a payload onto out. Bad payloads are permanent failures.
func decode(payload map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(payload); err != nil {
		return executor.Permanent(fmt.Errorf("decode payload: %w", err))
	}
	return nil
}
