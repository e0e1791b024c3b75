package workfn

import (
	"context"
	"errors"
	"time"

	"cronsmith/internal/executor"
	logx "cronsmith/pkg/logx"
)

const defaultRetentionDays = 30

type cleanupRequest struct {
	OlderThanDays int `mapstructure:"older_than_days"`
}

// cleanupLogs prunes terminal execution logs that started before the cutoff.
func cleanupLogs(d Deps) executor.WorkFunc {
	return func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		var req cleanupRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.OlderThanDays < 0 {
			return nil, executor.Permanent(errors.New("older_than_days must be >= 0"))
		}
		if req.OlderThanDays == 0 {
			req.OlderThanDays = defaultRetentionDays
		}
		before := d.Now().AddDate(0, 0, -req.OlderThanDays)
		n, err := d.Store.PruneLogs(ctx, before)
		if err != nil {
			return nil, err
		}
		d.Log.Info("execution logs pruned", logx.Int64("deleted", n), logx.Time("before", before))
		return map[string]any{
			"deleted": n,
			"before":  before.UTC().Format(time.RFC3339),
		}, nil
	}
}
