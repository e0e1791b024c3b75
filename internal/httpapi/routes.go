package httpapi

import (
	"context"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"cronsmith/internal/cronexpr"
	"cronsmith/internal/executor"
	"cronsmith/internal/health"
	"cronsmith/internal/jobs"
	"cronsmith/internal/pipeline"
	logx "cronsmith/pkg/logx"
)

// Service is the scheduler surface the API exposes.
type Service interface {
	CreateJob(ctx context.Context, p jobs.CreateParams) (jobs.CronJob, error)
	UpdateJob(ctx context.Context, id string, p jobs.UpdateParams) (jobs.CronJob, error)
	DeleteJob(ctx context.Context, id string) error
	ToggleJob(ctx context.Context, id string, enabled bool) (jobs.CronJob, error)
	ExecuteJob(ctx context.Context, id string) executor.Result
	ListJobs(ctx context.Context) ([]jobs.CronJob, error)
	GetJob(ctx context.Context, id string) (jobs.CronJob, error)
	GetExecutionLogs(ctx context.Context, jobID string, limit int) ([]jobs.ExecutionLog, error)
	GetJobStats(ctx context.Context) (health.Stats, error)
	GetHealthStatus(ctx context.Context) (health.Report, error)
	CreateScheduledTask(ctx context.Context, p jobs.TaskParams) (jobs.ScheduledTask, error)
	PipelineExecutions() []pipeline.Execution
	PipelineExecution(id string) (pipeline.Execution, bool)
}

const defaultLogLimit = 50

// Options toggle the optional parts of the handler.
type Options struct {
	Token   string
	Pprof   bool
	Metrics http.Handler
}

// NewHandler builds the route table.
func NewHandler(svc Service, opt Options, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{svc: svc}
	api := http.NewServeMux()
	api.HandleFunc("GET /api/jobs", h.listJobs)
	api.HandleFunc("POST /api/jobs", h.createJob)
	api.HandleFunc("GET /api/jobs/{id}", h.getJob)
	api.HandleFunc("PATCH /api/jobs/{id}", h.updateJob)
	api.HandleFunc("DELETE /api/jobs/{id}", h.deleteJob)
	api.HandleFunc("POST /api/jobs/{id}/run", h.runJob)
	api.HandleFunc("POST /api/jobs/{id}/toggle", h.toggleJob)
	api.HandleFunc("GET /api/logs", h.logs)
	api.HandleFunc("GET /api/stats", h.stats)
	api.HandleFunc("GET /api/health", h.health)
	api.HandleFunc("POST /api/tasks", h.createTask)
	api.HandleFunc("GET /api/pipelines", h.pipelines)
	api.HandleFunc("GET /api/pipelines/{id}", h.pipeline)
	api.HandleFunc("POST /api/cron/describe", h.describe)
	api.HandleFunc("POST /api/cron/pattern", h.pattern)
	if opt.Pprof {
		api.HandleFunc("/debug/pprof/", pprof.Index)
		api.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		api.HandleFunc("/debug/pprof/profile", pprof.Profile)
		api.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		api.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	root := http.NewServeMux()
	root.Handle("/", requireToken(opt.Token, api))
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opt.Metrics != nil {
		root.Handle("GET /metrics", opt.Metrics)
	}
	return logRequests(log, root)
}

type handlers struct {
	svc Service
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.ListJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *handlers) createJob(w http.ResponseWriter, r *http.Request) {
	var p jobs.CreateParams
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	j, err := h.svc.CreateJob(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handlers) updateJob(w http.ResponseWriter, r *http.Request) {
	var p jobs.UpdateParams
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	j, err := h.svc.UpdateJob(r.Context(), r.PathValue("id"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handlers) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteJob(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runJob executes synchronously. Rejections map to 404/409; a run that
// started returns 200 with its outcome in the body.
func (h *handlers) runJob(w http.ResponseWriter, r *http.Request) {
	res := h.svc.ExecuteJob(r.Context(), r.PathValue("id"))
	code := http.StatusOK
	switch res.Kind {
	case jobs.KindNotFound:
		code = http.StatusNotFound
	case jobs.KindDisabled, jobs.KindAlreadyRunning:
		code = http.StatusConflict
	}
	writeJSON(w, code, res)
}

func (h *handlers) toggleJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Enabled == nil {
		writeError(w, &jobs.ValidationError{Field: "enabled", Reason: "required"})
		return
	}
	j, err := h.svc.ToggleJob(r.Context(), r.PathValue("id"), *body.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handlers) logs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, &jobs.ValidationError{Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		limit = n
	}
	ls, err := h.svc.GetExecutionLogs(r.Context(), r.URL.Query().Get("job_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if ls == nil {
		ls = []jobs.ExecutionLog{}
	}
	writeJSON(w, http.StatusOK, ls)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetJobStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.GetHealthStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var p jobs.TaskParams
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	t, err := h.svc.CreateScheduledTask(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *handlers) pipelines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.PipelineExecutions())
}

func (h *handlers) pipeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exec, ok := h.svc.PipelineExecution(id)
	if !ok {
		writeError(w, &jobs.NotFoundError{Kind: "pipeline execution", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

type describeResponse struct {
	Expression  string     `json:"expression"`
	Valid       bool       `json:"valid"`
	Description string     `json:"description"`
	NextRun     *time.Time `json:"next_run,omitempty"`
}

func (h *handlers) describe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Expression string `json:"expression"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(body.Expression, time.Now()))
}

func describe(expr string, now time.Time) describeResponse {
	out := describeResponse{
		Expression:  expr,
		Valid:       cronexpr.Validate(expr),
		Description: cronexpr.HumanReadable(expr),
	}
	if next, err := cronexpr.NextRun(expr, now); err == nil {
		out.NextRun = &next
	}
	return out
}

func (h *handlers) pattern(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind cronexpr.Kind `json:"kind"`
		cronexpr.Options
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, describe(cronexpr.GeneratePattern(body.Kind, body.Options), time.Now()))
}

// requireToken checks a bearer token when one is configured.
func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || got != token {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(log logx.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.code),
			logx.Duration("took", time.Since(start)),
		)
	})
}
