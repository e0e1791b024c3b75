package workfn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cronsmith/internal/executor"
)

type webhookRequest struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Body    any               `mapstructure:"body"`
}

// httpWebhook sends body as JSON to url. Transport errors and 5xx are
// retried by the executor, 4xx are not.
func httpWebhook(d Deps) executor.WorkFunc {
	return func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		var req webhookRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		u, err := url.Parse(strings.TrimSpace(req.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, executor.Permanent(fmt.Errorf("http_webhook: invalid url %q", req.URL))
		}
		method := strings.ToUpper(strings.TrimSpace(req.Method))
		if method == "" {
			method = http.MethodPost
		}

		var body io.Reader
		if req.Body != nil {
			raw, err := json.Marshal(req.Body)
			if err != nil {
				return nil, executor.Permanent(fmt.Errorf("http_webhook: encode body: %w", err))
			}
			body = bytes.NewReader(raw)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
		if err != nil {
			return nil, executor.Permanent(fmt.Errorf("http_webhook: %w", err))
		}
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}
		if info, ok := executor.ExecutionFromContext(ctx); ok {
			httpReq.Header.Set("X-Cronsmith-Execution", info.ExecutionID)
			if info.JobID != "" {
				httpReq.Header.Set("X-Cronsmith-Job", info.JobID)
			}
		}

		resp, err := d.Client.Do(httpReq)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("http_webhook: %w", err)
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err := statusError("http_webhook", resp.StatusCode, raw); err != nil {
			return nil, err
		}

		out := map[string]any{"status": resp.StatusCode}
		var decoded any
		if len(raw) > 0 && json.Unmarshal(raw, &decoded) == nil {
			out["response"] = decoded
		}
		return out, nil
	}
}
