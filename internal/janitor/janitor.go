package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Reelforge/internal/domain"
	"github.com/shaiso/Reelforge/internal/mq"
	"github.com/shaiso/Reelforge/internal/pipeline"
)

// Default configuration values.
const (
	defaultSweepSpec     = "@every 1m"
	defaultRetentionSpec = "@every 1h"
	defaultSweepGrace    = 5 * time.Minute
	defaultRetention     = 7 * 24 * time.Hour
	defaultBatchSize     = 100
)

// StageStore — операции janitor'а над stages.
// Реализуется repo.StageRepo.
type StageStore interface {
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]domain.Stage, error)
	Update(ctx context.Context, stage *domain.Stage) error
}

// JobStore — операции janitor'а над jobs.
// Реализуется repo.JobRepo.
type JobStore interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor — фоновый уборщик.
//
// Две периодические задачи:
//   - sweep: разбирает stages, потерянные worker'ами — вернувшиеся
//     в диспетчеризацию или финализированные, в зависимости от
//     оставшихся попыток
//   - retention: удаляет терминальные jobs старше срока хранения
//     вместе с их stages
type Janitor struct {
	stageRepo StageStore
	jobRepo   JobStore
	publisher *mq.Publisher

	cron *cron.Cron

	sweepSpec     string
	retentionSpec string
	sweepGrace    time.Duration
	retention     time.Duration
	batchSize     int

	logger *slog.Logger
}

// Config — конфигурация Janitor.
type Config struct {
	StageRepo StageStore
	JobRepo   JobStore
	Publisher *mq.Publisher

	// SweepSpec — cron-расписание sweep-задачи (default: @every 1m).
	SweepSpec string

	// RetentionSpec — cron-расписание retention-задачи (default: @every 1h).
	RetentionSpec string

	// SweepGrace — запас сверх полного бюджета попыток типа stage,
	// после которого не отчитавшийся stage считается потерянным
	// (default: 5m).
	SweepGrace time.Duration

	// Retention — срок хранения терминальных jobs (default: 168h).
	Retention time.Duration

	// BatchSize — количество stages за один sweep (default: 100).
	BatchSize int

	Logger *slog.Logger
}

// New создаёт новый Janitor.
func New(cfg Config) *Janitor {
	sweepSpec := cfg.SweepSpec
	if sweepSpec == "" {
		sweepSpec = defaultSweepSpec
	}

	retentionSpec := cfg.RetentionSpec
	if retentionSpec == "" {
		retentionSpec = defaultRetentionSpec
	}

	sweepGrace := cfg.SweepGrace
	if sweepGrace <= 0 {
		sweepGrace = defaultSweepGrace
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		stageRepo:     cfg.StageRepo,
		jobRepo:       cfg.JobRepo,
		publisher:     cfg.Publisher,
		sweepSpec:     sweepSpec,
		retentionSpec: retentionSpec,
		sweepGrace:    sweepGrace,
		retention:     retention,
		batchSize:     batchSize,
		logger:        logger,
	}
}

// Start регистрирует задачи и запускает cron.
func (j *Janitor) Start(ctx context.Context) error {
	j.cron = cron.New()

	if _, err := j.cron.AddFunc(j.sweepSpec, func() {
		if n, err := j.SweepStuck(ctx); err != nil {
			j.logger.Error("stuck sweep failed", "error", err)
		} else if n > 0 {
			j.logger.Info("stuck stages requeued", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	if _, err := j.cron.AddFunc(j.retentionSpec, func() {
		if n, err := j.PruneFinished(ctx); err != nil {
			j.logger.Error("retention prune failed", "error", err)
		} else if n > 0 {
			j.logger.Info("finished jobs pruned", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}

	j.cron.Start()

	j.logger.Info("janitor started",
		"sweep", j.sweepSpec,
		"retention", j.retentionSpec,
		"sweep_grace", j.sweepGrace,
		"retention_period", j.retention,
	)

	return nil
}

// Stop останавливает cron и дожидается выполняющихся задач.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
	j.logger.Info("janitor stopped")
}

// SweepStuck разбирает stages, потерянные worker'ами.
//
// Stage считается потерянным, если висит в DISPATCHED/RUNNING/FAILED_TRANSIENT
// дольше полного бюджета своего типа (все попытки с дедлайнами и паузами
// между ними, pipeline.SweepAfter) плюс grace: живая работа укладывается
// в бюджет и под sweep не попадает. Потерянный stage с оставшимися
// попытками возвращается в DISPATCHED и заново публикуется в stages.ready;
// исчерпавший попытки — финализируется FAILED_PERMANENT.
func (j *Janitor) SweepStuck(ctx context.Context) (int, error) {
	now := time.Now()
	cutoff := now.Add(-(pipeline.MinSweepAfter() + j.sweepGrace))

	stages, err := j.stageRepo.ListStuck(ctx, cutoff, j.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stuck stages: %w", err)
	}

	swept := 0
	for i := range stages {
		stage := &stages[i]

		// Порог индивидуален по типу: выборка по общему минимуму
		// захватывает ещё живые долгие stages (video)
		if stage.DispatchedAt != nil && now.Sub(*stage.DispatchedAt) < pipeline.SweepAfter(stage.Type)+j.sweepGrace {
			continue
		}

		if !stage.CanRetry(pipeline.PolicyFor(stage.Type).MaxAttempts) {
			if err := j.finalizeLost(ctx, stage); err != nil {
				j.logger.Error("failed to finalize lost stage",
					"stage_id", stage.ID,
					"job_id", stage.JobID,
					"error", err,
				)
				continue
			}
			swept++
			continue
		}

		stage.ResetForRetry()
		stage.MarkDispatched()

		if err := j.stageRepo.Update(ctx, stage); err != nil {
			j.logger.Error("failed to requeue lost stage",
				"stage_id", stage.ID,
				"job_id", stage.JobID,
				"error", err,
			)
			continue
		}

		if j.publisher != nil {
			if err := j.publisher.PublishStageReady(ctx, stage.ID, stage.JobID); err != nil {
				j.logger.Warn("failed to publish stage.ready for requeued stage",
					"stage_id", stage.ID,
					"error", err,
				)
				// Worker подхватит через polling
			}
		}

		j.logger.Warn("lost stage requeued",
			"stage_id", stage.ID,
			"job_id", stage.JobID,
			"type", stage.Type,
			"attempt", stage.Attempt,
		)
		swept++
	}

	return swept, nil
}

// finalizeLost финализирует потерянный stage, исчерпавший попытки.
// Итог публикуется в stages.completed; при недоступном publisher
// Orchestrator подхватит терминальную строку через reconcile-poll.
func (j *Janitor) finalizeLost(ctx context.Context, stage *domain.Stage) error {
	stage.MarkFailedPermanent(domain.ErrorKindTransient,
		fmt.Sprintf("stage lost after %d attempts: worker did not report a result", stage.Attempt))

	if err := j.stageRepo.Update(ctx, stage); err != nil {
		return fmt.Errorf("update lost stage: %w", err)
	}

	if j.publisher != nil {
		if err := j.publisher.PublishStageCompleted(ctx, mq.StageCompletedPayload{
			StageID:   stage.ID,
			JobID:     stage.JobID,
			Type:      stage.Type,
			Status:    stage.Status,
			ErrorKind: stage.ErrorKind,
			Error:     stage.Error,
			Attempt:   stage.Attempt,
		}); err != nil {
			j.logger.Warn("failed to publish stage.completed for lost stage",
				"stage_id", stage.ID,
				"error", err,
			)
		}
	}

	j.logger.Warn("lost stage finalized",
		"stage_id", stage.ID,
		"job_id", stage.JobID,
		"type", stage.Type,
		"attempt", stage.Attempt,
	)

	return nil
}

// PruneFinished удаляет терминальные jobs старше срока хранения.
func (j *Janitor) PruneFinished(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-j.retention)

	deleted, err := j.jobRepo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}

	return deleted, nil
}
