package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeExhausted = "exhausted"
)

// JobMetrics tracks durable queue throughput and the scheduler that feeds it.
type JobMetrics struct {
	enqueued     *prometheus.CounterVec
	deduplicated *prometheus.CounterVec
	finished     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	reclaimed    *prometheus.CounterVec
	schedRuns    *prometheus.CounterVec
	schedErrors  *prometheus.CounterVec
	schedLag     prometheus.Observer
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// Jobs returns the singleton job metrics registered on the default registerer.
func Jobs() *JobMetrics {
	return JobsWithConfig(Config{})
}

func JobsWithConfig(cfg Config) *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = newJobMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return jobMetrics
}

// ResetJobMetricsForTest resets the job metrics singleton for tests.
func ResetJobMetricsForTest() {
	jobMetricsOnce = sync.Once{}
	jobMetrics = nil
}

func newJobMetrics(registerer prometheus.Registerer, cfg Config) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	m := &JobMetrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ecopoints_jobs_enqueued_total",
			Help:        "Jobs written to the durable queue.",
			ConstLabels: labels,
		}, []string{"queue", "type"}),
		deduplicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ecopoints_jobs_deduplicated_total",
			Help:        "Enqueue calls collapsed onto an existing job by dedupe key.",
			ConstLabels: labels,
		}, []string{"queue", "type"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ecopoints_jobs_finished_total",
			Help:        "Job attempts by outcome.",
			ConstLabels: labels,
		}, []string{"queue", "type", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "ecopoints_job_duration_seconds",
			Help:        "Handler latency per job attempt.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: labels,
		}, []string{"queue", "type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ecopoints_job_errors_total",
			Help:        "Handler errors by low-cardinality reason.",
			ConstLabels: labels,
		}, []string{"queue", "reason"}),
		reclaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ecopoints_jobs_reclaimed_total",
			Help:        "Running jobs returned to pending after their lease expired.",
			ConstLabels: labels,
		}, []string{"queue"}),
		schedRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ecopoints_scheduler_runs_total",
			Help:        "Scheduled task executions.",
			ConstLabels: labels,
		}, []string{"task"}),
		schedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ecopoints_scheduler_errors_total",
			Help:        "Scheduled task failures by reason.",
			ConstLabels: labels,
		}, []string{"task", "reason"}),
	}
	lag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "ecopoints_scheduler_enqueue_lag_seconds",
		Help:        "Delay between the scheduled tick and the fan-out finishing.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		ConstLabels: labels,
	})
	m.schedLag = lag

	registerer.MustRegister(
		m.enqueued,
		m.deduplicated,
		m.finished,
		m.duration,
		m.errors,
		m.reclaimed,
		m.schedRuns,
		m.schedErrors,
		lag,
	)
	return m
}

func (m *JobMetrics) IncEnqueued(queue, jobType string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(queue, jobType).Inc()
}

func (m *JobMetrics) IncDeduplicated(queue, jobType string) {
	if m == nil {
		return
	}
	m.deduplicated.WithLabelValues(queue, jobType).Inc()
}

// ObserveAttempt records one handler execution and its outcome.
func (m *JobMetrics) ObserveAttempt(queue, jobType, outcome string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(queue, jobType, outcome).Inc()
	m.duration.WithLabelValues(queue, jobType).Observe(elapsed.Seconds())
	if err != nil {
		m.errors.WithLabelValues(queue, ClassifyReason(err)).Inc()
	}
}

func (m *JobMetrics) AddReclaimed(queue string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reclaimed.WithLabelValues(queue).Add(float64(n))
}

func (m *JobMetrics) IncSchedulerRun(task string) {
	if m == nil {
		return
	}
	m.schedRuns.WithLabelValues(task).Inc()
}

func (m *JobMetrics) IncSchedulerError(task string, err error) {
	if m == nil || err == nil {
		return
	}
	m.schedErrors.WithLabelValues(task, ClassifyReason(err)).Inc()
}

func (m *JobMetrics) ObserveSchedulerLag(d time.Duration) {
	if m == nil {
		return
	}
	m.schedLag.Observe(max(d, 0).Seconds())
}
