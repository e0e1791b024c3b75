package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"

	"cronsmith/internal/jobs"
	logx "cronsmith/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sqlStore implements Store for sqlite and postgres. Queries are written with
// '?' placeholders and rebound for the driver. Timestamps are unix milliseconds.
type sqlStore struct {
	db      *sqlx.DB
	log     logx.Logger
	dialect string
}

func newSQLStore(ctx context.Context, db *sqlx.DB, dialect string, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, log: log, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.dialect + ".sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return jobs.Storage("migrate", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// nextSeq is the insert expression for table's seq column. Postgres draws it
// from the column's sequence; sqlite runs one writer at a time.
func (s *sqlStore) nextSeq(table string) string {
	if s.dialect == "postgres" {
		return "DEFAULT"
	}
	return "(SELECT COALESCE(MAX(seq), 0) + 1 FROM " + table + ")"
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.db.Rebind(query), args...)
}

func (s *sqlStore) get(ctx context.Context, dest any, query string, args ...any) error {
	return s.db.GetContext(ctx, dest, s.db.Rebind(query), args...)
}

func (s *sqlStore) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	return s.db.SelectContext(ctx, dest, s.db.Rebind(query), args...)
}

// ---- jobs ----

type jobRow struct {
	ID              string        `db:"id"`
	Name            string        `db:"name"`
	Description     string        `db:"description"`
	CronExpression  string        `db:"cron_expression"`
	JobType         string        `db:"job_type"`
	FunctionName    string        `db:"function_name"`
	FunctionPayload string        `db:"function_payload"`
	Enabled         bool          `db:"enabled"`
	Status          string        `db:"status"`
	RetryCount      int           `db:"retry_count"`
	TimeoutSeconds  int           `db:"timeout_seconds"`
	NextRunAt       sql.NullInt64 `db:"next_run_at"`
	LastRunAt       sql.NullInt64 `db:"last_run_at"`
	Tags            string        `db:"tags"`
	Dependencies    string        `db:"dependencies"`
	Conditions      string        `db:"conditions"`
	CreatedAt       int64         `db:"created_at"`
	UpdatedAt       int64         `db:"updated_at"`
}

const jobColumns = `id, name, description, cron_expression, job_type, function_name, function_payload,
	enabled, status, retry_count, timeout_seconds, next_run_at, last_run_at, tags, dependencies,
	conditions, created_at, updated_at`

func (r jobRow) toJob() (jobs.CronJob, error) {
	j := jobs.CronJob{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		CronExpression: r.CronExpression,
		JobType:        jobs.JobType(r.JobType),
		FunctionName:   r.FunctionName,
		Enabled:        r.Enabled,
		Status:         jobs.JobStatus(r.Status),
		RetryCount:     r.RetryCount,
		TimeoutSeconds: r.TimeoutSeconds,
		NextRunAt:      fromNullMilli(r.NextRunAt),
		LastRunAt:      fromNullMilli(r.LastRunAt),
		CreatedAt:      time.UnixMilli(r.CreatedAt),
		UpdatedAt:      time.UnixMilli(r.UpdatedAt),
	}
	err := errors.Join(
		decodeJSON(r.FunctionPayload, &j.FunctionPayload),
		decodeJSON(r.Tags, &j.Tags),
		decodeJSON(r.Dependencies, &j.Dependencies),
		decodeJSON(r.Conditions, &j.Conditions),
	)
	if err != nil {
		return jobs.CronJob{}, jobs.Storage("decode job "+r.ID, err)
	}
	return j, nil
}

func jobArgs(j jobs.CronJob) []any {
	return []any{
		j.Name, j.Description, j.CronExpression, string(j.JobType), j.FunctionName,
		encodeJSON(j.FunctionPayload, "{}"), j.Enabled, string(j.Status), j.RetryCount,
		j.TimeoutSeconds, toNullMilli(j.NextRunAt), toNullMilli(j.LastRunAt),
		encodeJSON(j.Tags, "[]"), encodeJSON(j.Dependencies, "[]"), encodeJSON(j.Conditions, "{}"),
		j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli(),
	}
}

func (s *sqlStore) CreateJob(ctx context.Context, j jobs.CronJob) error {
	args := append([]any{j.ID}, jobArgs(j)...)
	_, err := s.exec(ctx, `INSERT INTO cron_jobs(`+jobColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return jobs.Storage("create job", err)
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (jobs.CronJob, error) {
	var r jobRow
	err := s.get(ctx, &r, `SELECT `+jobColumns+` FROM cron_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.CronJob{}, &jobs.NotFoundError{Kind: "job", ID: id}
	}
	if err != nil {
		return jobs.CronJob{}, jobs.Storage("get job", err)
	}
	return r.toJob()
}

func (s *sqlStore) ListJobs(ctx context.Context) ([]jobs.CronJob, error) {
	var rows []jobRow
	if err := s.selectRows(ctx, &rows, `SELECT `+jobColumns+` FROM cron_jobs ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, jobs.Storage("list jobs", err)
	}
	return mapRows(rows, jobRow.toJob)
}

func (s *sqlStore) UpdateJob(ctx context.Context, j jobs.CronJob) error {
	args := append(jobArgs(j), j.ID)
	res, err := s.exec(ctx, `UPDATE cron_jobs SET name = ?, description = ?, cron_expression = ?,
		job_type = ?, function_name = ?, function_payload = ?, enabled = ?, status = ?,
		retry_count = ?, timeout_seconds = ?, next_run_at = ?, last_run_at = ?, tags = ?,
		dependencies = ?, conditions = ?, created_at = ?, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return jobs.Storage("update job", err)
	}
	return affected(res, "update job", &jobs.NotFoundError{Kind: "job", ID: j.ID})
}

func (s *sqlStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return jobs.Storage("delete job", err)
	}
	return affected(res, "delete job", &jobs.NotFoundError{Kind: "job", ID: id})
}

func (s *sqlStore) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]jobs.CronJob, error) {
	var rows []jobRow
	err := s.selectRows(ctx, &rows, `SELECT `+jobColumns+` FROM cron_jobs
		WHERE enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC LIMIT ?`, true, now.UnixMilli(), sqlLimit(limit))
	if err != nil {
		return nil, jobs.Storage("list due jobs", err)
	}
	return mapRows(rows, jobRow.toJob)
}

// ---- execution logs ----

type logRow struct {
	ID           string         `db:"id"`
	CronJobID    string         `db:"cron_job_id"`
	ExecutionID  string         `db:"execution_id"`
	Status       string         `db:"status"`
	StartedAt    int64          `db:"started_at"`
	CompletedAt  sql.NullInt64  `db:"completed_at"`
	DurationMS   int64          `db:"duration_ms"`
	Output       sql.NullString `db:"output"`
	ErrorMessage string         `db:"error_message"`
	ErrorKind    string         `db:"error_kind"`
	RetryAttempt int            `db:"retry_attempt"`
}

const logColumns = `id, cron_job_id, execution_id, status, started_at, completed_at, duration_ms,
	output, error_message, error_kind, retry_attempt`

func (r logRow) toLog() (jobs.ExecutionLog, error) {
	l := jobs.ExecutionLog{
		ID:           r.ID,
		CronJobID:    r.CronJobID,
		ExecutionID:  r.ExecutionID,
		Status:       jobs.LogStatus(r.Status),
		StartedAt:    time.UnixMilli(r.StartedAt),
		CompletedAt:  fromNullMilli(r.CompletedAt),
		DurationMS:   r.DurationMS,
		ErrorMessage: r.ErrorMessage,
		ErrorKind:    jobs.ErrorKind(r.ErrorKind),
		RetryAttempt: r.RetryAttempt,
	}
	if r.Output.Valid {
		if err := decodeJSON(r.Output.String, &l.Output); err != nil {
			return jobs.ExecutionLog{}, jobs.Storage("decode log "+r.ID, err)
		}
	}
	return l, nil
}

func (s *sqlStore) CreateLog(ctx context.Context, l jobs.ExecutionLog) error {
	_, err := s.exec(ctx, `INSERT INTO job_execution_logs(seq, `+logColumns+`)
		VALUES(`+s.nextSeq("job_execution_logs")+`,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.CronJobID, l.ExecutionID, string(l.Status), l.StartedAt.UnixMilli(),
		toNullMilli(l.CompletedAt), l.DurationMS, nullJSON(l.Output), l.ErrorMessage,
		string(l.ErrorKind), l.RetryAttempt)
	return jobs.Storage("create log", err)
}

func (s *sqlStore) GetLog(ctx context.Context, id string) (jobs.ExecutionLog, error) {
	var r logRow
	err := s.get(ctx, &r, `SELECT `+logColumns+` FROM job_execution_logs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ExecutionLog{}, &jobs.NotFoundError{Kind: "execution log", ID: id}
	}
	if err != nil {
		return jobs.ExecutionLog{}, jobs.Storage("get log", err)
	}
	return r.toLog()
}

func (s *sqlStore) FinishLog(ctx context.Context, l jobs.ExecutionLog) error {
	res, err := s.exec(ctx, `UPDATE job_execution_logs SET status = ?, completed_at = ?, duration_ms = ?,
		output = ?, error_message = ?, error_kind = ?, retry_attempt = ?
		WHERE id = ? AND status = ?`,
		string(l.Status), toNullMilli(l.CompletedAt), l.DurationMS, nullJSON(l.Output),
		l.ErrorMessage, string(l.ErrorKind), l.RetryAttempt, l.ID, string(jobs.LogRunning))
	if err != nil {
		return jobs.Storage("finish log", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return jobs.Storage("finish log", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetLog(ctx, l.ID); err != nil {
		return err
	}
	return ErrLogNotRunning
}

func (s *sqlStore) ListLogs(ctx context.Context, jobID string, limit int) ([]jobs.ExecutionLog, error) {
	var (
		rows []logRow
		err  error
	)
	if jobID == "" {
		err = s.selectRows(ctx, &rows, `SELECT `+logColumns+` FROM job_execution_logs
			ORDER BY started_at DESC, seq DESC LIMIT ?`, sqlLimit(limit))
	} else {
		err = s.selectRows(ctx, &rows, `SELECT `+logColumns+` FROM job_execution_logs
			WHERE cron_job_id = ? ORDER BY started_at DESC, seq DESC LIMIT ?`, jobID, sqlLimit(limit))
	}
	if err != nil {
		return nil, jobs.Storage("list logs", err)
	}
	return mapRows(rows, logRow.toLog)
}

func (s *sqlStore) DeleteJobLogs(ctx context.Context, jobID string) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM job_execution_logs WHERE cron_job_id = ?`, jobID)
	if err != nil {
		return 0, jobs.Storage("delete logs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *sqlStore) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM job_execution_logs WHERE started_at < ? AND status IN (?, ?, ?)`,
		before.UnixMilli(), string(jobs.LogCompleted), string(jobs.LogFailed), string(jobs.LogCancelled))
	if err != nil {
		return 0, jobs.Storage("prune logs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ---- scheduled tasks ----

type taskRow struct {
	ID              string         `db:"id"`
	Name            string         `db:"name"`
	FunctionName    string         `db:"function_name"`
	FunctionPayload string         `db:"function_payload"`
	ScheduledFor    int64          `db:"scheduled_for"`
	Priority        string         `db:"priority"`
	Status          string         `db:"status"`
	StartedAt       sql.NullInt64  `db:"started_at"`
	CompletedAt     sql.NullInt64  `db:"completed_at"`
	Output          sql.NullString `db:"output"`
	ErrorMessage    string         `db:"error_message"`
	CreatedAt       int64          `db:"created_at"`
}

const taskColumns = `id, name, function_name, function_payload, scheduled_for, priority, status,
	started_at, completed_at, output, error_message, created_at`

func (r taskRow) toTask() (jobs.ScheduledTask, error) {
	t := jobs.ScheduledTask{
		ID:           r.ID,
		Name:         r.Name,
		FunctionName: r.FunctionName,
		ScheduledFor: time.UnixMilli(r.ScheduledFor),
		Priority:     jobs.Priority(r.Priority),
		Status:       jobs.TaskStatus(r.Status),
		StartedAt:    fromNullMilli(r.StartedAt),
		CompletedAt:  fromNullMilli(r.CompletedAt),
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
	}
	err := decodeJSON(r.FunctionPayload, &t.FunctionPayload)
	if err == nil && r.Output.Valid {
		err = decodeJSON(r.Output.String, &t.Output)
	}
	if err != nil {
		return jobs.ScheduledTask{}, jobs.Storage("decode task "+r.ID, err)
	}
	return t, nil
}

func (s *sqlStore) CreateTask(ctx context.Context, t jobs.ScheduledTask) error {
	_, err := s.exec(ctx, `INSERT INTO scheduled_tasks(`+taskColumns+`, priority_rank)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, t.FunctionName, encodeJSON(t.FunctionPayload, "{}"), t.ScheduledFor.UnixMilli(),
		string(t.Priority), string(t.Status), toNullMilli(t.StartedAt), toNullMilli(t.CompletedAt),
		nullJSON(t.Output), t.ErrorMessage, t.CreatedAt.UnixMilli(), t.Priority.Rank())
	return jobs.Storage("create task", err)
}

func (s *sqlStore) GetTask(ctx context.Context, id string) (jobs.ScheduledTask, error) {
	var r taskRow
	err := s.get(ctx, &r, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ScheduledTask{}, &jobs.NotFoundError{Kind: "scheduled task", ID: id}
	}
	if err != nil {
		return jobs.ScheduledTask{}, jobs.Storage("get task", err)
	}
	return r.toTask()
}

func (s *sqlStore) StartTask(ctx context.Context, id string, at time.Time) (jobs.ScheduledTask, error) {
	res, err := s.exec(ctx, `UPDATE scheduled_tasks SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(jobs.TaskRunning), at.UnixMilli(), id, string(jobs.TaskPending))
	if err != nil {
		return jobs.ScheduledTask{}, jobs.Storage("start task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return jobs.ScheduledTask{}, jobs.Storage("start task", err)
	}
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return jobs.ScheduledTask{}, err
	}
	if n == 0 {
		return jobs.ScheduledTask{}, ErrTaskNotPending
	}
	return t, nil
}

func (s *sqlStore) FinishTask(ctx context.Context, t jobs.ScheduledTask) error {
	res, err := s.exec(ctx, `UPDATE scheduled_tasks SET status = ?, completed_at = ?, output = ?, error_message = ?
		WHERE id = ? AND status = ?`,
		string(t.Status), toNullMilli(t.CompletedAt), nullJSON(t.Output), t.ErrorMessage,
		t.ID, string(jobs.TaskRunning))
	if err != nil {
		return jobs.Storage("finish task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return jobs.Storage("finish task", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetTask(ctx, t.ID); err != nil {
		return err
	}
	return ErrTaskNotRunning
}

func (s *sqlStore) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]jobs.ScheduledTask, error) {
	var rows []taskRow
	err := s.selectRows(ctx, &rows, `SELECT `+taskColumns+` FROM scheduled_tasks
		WHERE status = ? AND scheduled_for <= ?
		ORDER BY priority_rank DESC, scheduled_for ASC LIMIT ?`,
		string(jobs.TaskPending), now.UnixMilli(), sqlLimit(limit))
	if err != nil {
		return nil, jobs.Storage("list due tasks", err)
	}
	return mapRows(rows, taskRow.toTask)
}

// ---- generated content ----

type contentRow struct {
	ID          string         `db:"id"`
	ExecutionID string         `db:"execution_id"`
	CronJobID   string         `db:"cron_job_id"`
	Title       string         `db:"title"`
	Body        string         `db:"body"`
	Metadata    sql.NullString `db:"metadata"`
	CreatedAt   int64          `db:"created_at"`
}

func (r contentRow) toContent() (jobs.GeneratedContent, error) {
	c := jobs.GeneratedContent{
		ID:          r.ID,
		ExecutionID: r.ExecutionID,
		CronJobID:   r.CronJobID,
		Title:       r.Title,
		Body:        r.Body,
		CreatedAt:   time.UnixMilli(r.CreatedAt),
	}
	if r.Metadata.Valid {
		if err := decodeJSON(r.Metadata.String, &c.Metadata); err != nil {
			return jobs.GeneratedContent{}, jobs.Storage("decode content "+r.ID, err)
		}
	}
	return c, nil
}

func (s *sqlStore) SaveContent(ctx context.Context, c jobs.GeneratedContent) error {
	_, err := s.exec(ctx, `INSERT INTO generated_content(seq, id, execution_id, cron_job_id, title, body, metadata, created_at)
		VALUES(`+s.nextSeq("generated_content")+`,?,?,?,?,?,?,?)`,
		c.ID, c.ExecutionID, c.CronJobID, c.Title, c.Body, nullJSON(c.Metadata), c.CreatedAt.UnixMilli())
	return jobs.Storage("save content", err)
}

func (s *sqlStore) ListContent(ctx context.Context, limit int) ([]jobs.GeneratedContent, error) {
	var rows []contentRow
	err := s.selectRows(ctx, &rows, `SELECT id, execution_id, cron_job_id, title, body, metadata, created_at
		FROM generated_content ORDER BY seq DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, jobs.Storage("list content", err)
	}
	return mapRows(rows, contentRow.toContent)
}

// ---- helpers ----

func affected(res sql.Result, op string, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return jobs.Storage(op, err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

// sqlLimit maps "no limit" to a value both dialects accept.
func sqlLimit(limit int) int64 {
	if limit <= 0 {
		return 1<<62 - 1
	}
	return int64(limit)
}

func mapRows[R, T any](rows []R, fn func(R) (T, error)) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := fn(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func toNullMilli(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMilli(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func encodeJSON(v any, empty string) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return empty
	}
	return string(b)
}

func nullJSON(m map[string]any) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeJSON(m, "{}"), Valid: true}
}

func decodeJSON(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
