// Package metrics holds the Prometheus collectors of the scheduler.
//
// All methods are nil-safe so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cronsmith"

type Metrics struct {
	reg *prometheus.Registry

	executions  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	retries     prometheus.Counter
	rejected    *prometheus.CounterVec
	tasks       *prometheus.CounterVec
	pipelines   *prometheus.CounterVec
	stageFailed *prometheus.CounterVec
	sweeps      prometheus.Counter
	dispatched  *prometheus.CounterVec
	health      prometheus.Gauge
	running     prometheus.Gauge
}

// New registers every collector, plus Go and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_executions_total",
			Help:      "Job executions by function and outcome",
		}, []string{"function", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_execution_seconds",
			Help:      "Wall time of job executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
		}, []string{"function"}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Work function retries across all jobs",
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_rejections_total",
			Help:      "Run requests rejected before any attempt, by reason",
		}, []string{"reason"}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_tasks_total",
			Help:      "One-off scheduled task runs by outcome",
		}, []string{"status"}),
		pipelines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_executions_total",
			Help:      "Pipeline executions by outcome",
		}, []string{"status"}),
		stageFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_failures_total",
			Help:      "Failed pipeline stages by stage name",
		}, []string{"stage"}),
		sweeps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Completed sweeps for due work",
		}),
		dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_dispatched_total",
			Help:      "Work dispatched by the sweeper, by kind",
		}, []string{"kind"}),
		health: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_status",
			Help:      "0 healthy, 1 warning, 2 critical",
		}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Jobs currently executing",
		}),
	}
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveExecution(function string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "failed"
	if success {
		status = "completed"
	}
	m.executions.WithLabelValues(function, status).Inc()
	m.duration.WithLabelValues(function).Observe(d.Seconds())
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) TaskFinished(success bool) {
	if m == nil {
		return
	}
	if success {
		m.tasks.WithLabelValues("completed").Inc()
		return
	}
	m.tasks.WithLabelValues("failed").Inc()
}

func (m *Metrics) PipelineFinished(status, failedStage string) {
	if m == nil {
		return
	}
	m.pipelines.WithLabelValues(status).Inc()
	if failedStage != "" {
		m.stageFailed.WithLabelValues(failedStage).Inc()
	}
}

func (m *Metrics) Sweep() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}

func (m *Metrics) Dispatched(kind string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetHealth(level int) {
	if m == nil {
		return
	}
	m.health.Set(float64(level))
}

func (m *Metrics) RunningDelta(d int) {
	if m == nil {
		return
	}
	m.running.Add(float64(d))
}
