package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики системы. Регистрируются в default registry,
// экспортируются через promhttp на /metrics каждого сервиса.
var (
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_jobs_finished_total",
		Help: "Terminal jobs by final status.",
	}, []string{"status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reelforge_job_duration_seconds",
		Help:    "Wall-clock duration of finished jobs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~1h
	}, []string{"status"})

	stagesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_stages_completed_total",
		Help: "Terminal stages by type and final status.",
	}, []string{"type", "status"})

	stageAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reelforge_stage_attempts_total",
		Help: "Stage attempts by type and outcome (succeeded, transient, permanent).",
	}, []string{"type", "outcome"})

	stageAttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reelforge_stage_attempt_duration_seconds",
		Help:    "Duration of individual stage attempts.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms .. ~17m
	}, []string{"type"})

	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reelforge_active_jobs",
		Help: "Jobs currently held in orchestrator memory.",
	})
)

// JobFinished фиксирует финализацию job.
func JobFinished(status string, duration time.Duration) {
	jobsFinished.WithLabelValues(status).Inc()
	jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// StageCompleted фиксирует терминальный переход stage.
func StageCompleted(stageType, status string) {
	stagesCompleted.WithLabelValues(stageType, status).Inc()
}

// StageAttempt фиксирует исход одной попытки выполнения stage.
func StageAttempt(stageType, outcome string, duration time.Duration) {
	stageAttempts.WithLabelValues(stageType, outcome).Inc()
	stageAttemptDuration.WithLabelValues(stageType).Observe(duration.Seconds())
}

// SetActiveJobs обновляет gauge активных jobs.
func SetActiveJobs(n int) {
	activeJobs.Set(float64(n))
}
