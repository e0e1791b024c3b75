package app

import (
	"context"

	"cronsmith/internal/executor"
	"cronsmith/internal/health"
	"cronsmith/internal/httpapi"
	"cronsmith/internal/jobs"
	"cronsmith/internal/pipeline"
)

var _ httpapi.Service = (*App)(nil)

func (a *App) CreateJob(ctx context.Context, p jobs.CreateParams) (jobs.CronJob, error) {
	return a.exec.Create(ctx, p)
}

func (a *App) UpdateJob(ctx context.Context, id string, p jobs.UpdateParams) (jobs.CronJob, error) {
	return a.exec.Update(ctx, id, p)
}

func (a *App) DeleteJob(ctx context.Context, id string) error {
	return a.exec.Delete(ctx, id)
}

func (a *App) ToggleJob(ctx context.Context, id string, enabled bool) (jobs.CronJob, error) {
	return a.exec.Toggle(ctx, id, enabled)
}

// ExecuteJob runs the job now and blocks until it finishes.
func (a *App) ExecuteJob(ctx context.Context, id string) executor.Result {
	return a.exec.Execute(ctx, id)
}

func (a *App) ListJobs(ctx context.Context) ([]jobs.CronJob, error) {
	return a.exec.List(ctx)
}

func (a *App) GetJob(ctx context.Context, id string) (jobs.CronJob, error) {
	return a.exec.Get(ctx, id)
}

// GetExecutionLogs lists logs newest first; an empty jobID spans all jobs.
func (a *App) GetExecutionLogs(ctx context.Context, jobID string, limit int) ([]jobs.ExecutionLog, error) {
	return a.exec.Logs(ctx, jobID, limit)
}

func (a *App) GetJobStats(ctx context.Context) (health.Stats, error) {
	return a.monitor.Stats(ctx)
}

func (a *App) GetHealthStatus(ctx context.Context) (health.Report, error) {
	return a.monitor.Status(ctx)
}

func (a *App) CreateScheduledTask(ctx context.Context, p jobs.TaskParams) (jobs.ScheduledTask, error) {
	return a.exec.CreateScheduledTask(ctx, p)
}

// RunScheduledTask runs a pending task now instead of waiting for the sweeper.
func (a *App) RunScheduledTask(ctx context.Context, id string) executor.TaskResult {
	return a.exec.RunScheduledTask(ctx, id)
}

// RunPipeline runs ad-hoc stages on the shared runner so they show up in the
// pipeline history next to job-driven runs.
func (a *App) RunPipeline(ctx context.Context, stages []pipeline.Stage, pctx pipeline.Context) pipeline.Execution {
	return a.pipelines.Run(ctx, stages, pctx)
}

func (a *App) PipelineExecutions() []pipeline.Execution { return a.pipelines.Executions() }

func (a *App) PipelineExecution(id string) (pipeline.Execution, bool) {
	return a.pipelines.Execution(id)
}
