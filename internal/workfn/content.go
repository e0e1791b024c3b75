package workfn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"cronsmith/internal/executor"
	"cronsmith/internal/jobs"
	"cronsmith/internal/pipeline"
	logx "cronsmith/pkg/logx"
)

// Stage names of the content pipeline.
const (
	StageGeneration = "content_generation"
	StageStorage    = "database_storage"
)

var ErrNoGenerator = errors.New("content generator not configured")

// ContentRequest is the payload of content_pipeline jobs.
type ContentRequest struct {
	Topic    string         `mapstructure:"topic" json:"topic"`
	Title    string         `mapstructure:"title" json:"title,omitempty"`
	Keywords []string       `mapstructure:"keywords" json:"keywords,omitempty"`
	Tone     string         `mapstructure:"tone" json:"tone,omitempty"`
	Length   int            `mapstructure:"length" json:"length,omitempty"`
	Metadata map[string]any `mapstructure:"metadata" json:"metadata,omitempty"`
}

// Draft is what a Generator produces.
type Draft struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Generator writes content for a request. Its internals are out of scope here.
type Generator interface {
	Generate(ctx context.Context, req ContentRequest) (Draft, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req ContentRequest) (Draft, error)

func (f GeneratorFunc) Generate(ctx context.Context, req ContentRequest) (Draft, error) {
	return f(ctx, req)
}

// HTTPGenerator posts the request as JSON to URL and expects a Draft back.
type HTTPGenerator struct {
	URL    string
	APIKey string
	Client *http.Client
}

const maxResponseBody = 4 << 20

func (g *HTTPGenerator) Generate(ctx context.Context, req ContentRequest) (Draft, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Draft{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return Draft{}, executor.Permanent(fmt.Errorf("generator request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.APIKey)
	}
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return Draft{}, fmt.Errorf("generator: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Draft{}, fmt.Errorf("generator: read response: %w", err)
	}
	if err := statusError("generator", resp.StatusCode, raw); err != nil {
		return Draft{}, err
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return Draft{}, fmt.Errorf("generator: decode response: %w", err)
	}
	if strings.TrimSpace(d.Body) == "" {
		return Draft{}, errors.New("generator: empty body")
	}
	return d, nil
}

const draftKey = "draft"

func contentPipeline(d Deps) executor.WorkFunc {
	return func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		var req ContentRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if strings.TrimSpace(req.Topic) == "" {
			return nil, executor.Permanent(errors.New("content_pipeline: topic is required"))
		}
		if d.Generator == nil {
			return nil, executor.Permanent(ErrNoGenerator)
		}
		info, _ := executor.ExecutionFromContext(ctx)

		// The runner records only the error text; keep the value so permanence survives.
		var stageErr error
		wrap := func(name string, fn func(ctx context.Context, pctx pipeline.Context) error) pipeline.Stage {
			return pipeline.Stage{Name: name, Run: func(ctx context.Context, pctx pipeline.Context) error {
				err := fn(ctx, pctx)
				if err != nil {
					stageErr = err
				}
				return err
			}}
		}

		var saved jobs.GeneratedContent
		stages := []pipeline.Stage{
			wrap(StageGeneration, func(ctx context.Context, pctx pipeline.Context) error {
				draft, err := d.Generator.Generate(ctx, req)
				if err != nil {
					return err
				}
				if draft.Title == "" {
					draft.Title = req.Title
				}
				pctx[draftKey] = draft
				return nil
			}),
			wrap(StageStorage, func(ctx context.Context, pctx pipeline.Context) error {
				draft, ok := pctx[draftKey].(Draft)
				if !ok {
					return errors.New("no draft from content_generation")
				}
				meta := map[string]any{"topic": req.Topic}
				for k, v := range req.Metadata {
					meta[k] = v
				}
				for k, v := range draft.Metadata {
					meta[k] = v
				}
				saved = jobs.GeneratedContent{
					ID:          uuid.NewString(),
					ExecutionID: info.ExecutionID,
					CronJobID:   info.JobID,
					Title:       draft.Title,
					Body:        draft.Body,
					Metadata:    meta,
					CreatedAt:   d.Now(),
				}
				return d.Store.SaveContent(ctx, saved)
			}),
		}

		exec := d.Pipelines.Run(ctx, stages, pipeline.Context{"request": req, "job_id": info.JobID})
		if exec.Status != pipeline.StatusCompleted {
			d.Log.Warn("content pipeline failed",
				logx.String("pipeline_id", exec.ID),
				logx.String("stage", exec.FailedStage()),
				logx.String("err", exec.Error),
			)
			if stageErr != nil {
				return nil, fmt.Errorf("pipeline %s stage %s: %w", exec.ID, exec.FailedStage(), stageErr)
			}
			return nil, fmt.Errorf("pipeline %s stage %s: %s", exec.ID, exec.FailedStage(), exec.Error)
		}

		stagesOut := make([]map[string]any, 0, len(exec.Stages))
		for _, s := range exec.Stages {
			stagesOut = append(stagesOut, map[string]any{"id": s.ID, "status": string(s.Status)})
		}
		return map[string]any{
			"pipeline_execution_id": exec.ID,
			"content_id":            saved.ID,
			"title":                 saved.Title,
			"stages":                stagesOut,
		}, nil
	}
}

// statusError maps a non-2xx response to an error. 4xx is permanent.
func statusError(who string, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	err := fmt.Errorf("%s: status %d: %s", who, code, snippet)
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
		return executor.Permanent(err)
	}
	return err
}
