package executor

import "context"

// ExecutionInfo identifies the run a work function is part of.
type ExecutionInfo struct {
	JobID       string
	TaskID      string
	LogID       string
	ExecutionID string
	Function    string
	Attempt     int
}

type infoKey struct{}

func withExecution(ctx context.Context, info ExecutionInfo) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// ExecutionFromContext returns the run info attached by the executor.
func ExecutionFromContext(ctx context.Context) (ExecutionInfo, bool) {
	info, ok := ctx.Value(infoKey{}).(ExecutionInfo)
	return info, ok
}
