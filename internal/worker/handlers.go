package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
	"github.com/shaiso/Reelforge/internal/mq"
	"github.com/shaiso/Reelforge/internal/pipeline"
	"github.com/shaiso/Reelforge/internal/provider"
	"github.com/shaiso/Reelforge/internal/repo"
	"github.com/shaiso/Reelforge/internal/telemetry"
)

// handleStageReady обрабатывает событие из очереди stages.ready.
func (w *Worker) handleStageReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.StageReadyPayload](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse stage.ready payload", "error", err)
		return err
	}

	w.logger.Debug("received stage.ready event",
		"stage_id", payload.StageID,
		"job_id", payload.JobID,
	)

	if err := w.processStage(ctx, payload.StageID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrStageNotFound) || errors.Is(err, ErrStageNotReady) || errors.Is(err, ErrJobFinished) {
			w.logger.Debug("stage not processed", "stage_id", payload.StageID, "reason", err)
			return nil
		}
		w.logger.Error("failed to process stage", "stage_id", payload.StageID, "error", err)
		return err
	}

	return nil
}

// processStage загружает stage из БД, выполняет и публикует итог.
func (w *Worker) processStage(ctx context.Context, stageID uuid.UUID) error {
	// 1. Загружаем stage из БД
	stage, err := w.stageRepo.GetByID(ctx, stageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrStageNotFound, stageID)
		}
		return fmt.Errorf("get stage: %w", err)
	}

	// 2. Проверяем статус: дубль доставки или гонка с другим worker'ом
	if stage.Status != domain.StageStatusReady && stage.Status != domain.StageStatusDispatched {
		return ErrStageNotReady
	}

	// 3. Загружаем job: spec нужен провайдеру, статус — для skip
	// работы по уже финализированному job
	job, err := w.jobRepo.GetByID(ctx, stage.JobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("job %s: %w", stage.JobID, repo.ErrNotFound)
		}
		return fmt.Errorf("get job: %w", err)
	}
	if job.IsFinished() {
		return fmt.Errorf("%w: %s", ErrJobFinished, job.ID)
	}

	// 4. Атомарно забираем stage в работу: из двух конкурирующих
	// worker'ов претензию выигрывает ровно один
	stage, err = w.claimStage(ctx, stage)
	if err != nil {
		return err
	}

	w.logger.Info("stage started",
		"stage_id", stage.ID,
		"job_id", stage.JobID,
		"type", stage.Type,
		"attempt", stage.Attempt,
	)

	// 5. Выполняем с retry по политике типа stage
	policy := pipeline.PolicyFor(stage.Type)
	deadline := pipeline.DeadlineFor(stage.Type)
	output, execErr := w.executeWithRetry(ctx, stage, &job.Spec, policy, deadline)

	// 6. Фиксируем итог
	if execErr == nil {
		stage.MarkSucceeded(output.Ref)
		if err := w.updateStage(ctx, stage); err != nil {
			return fmt.Errorf("update stage to succeeded: %w", err)
		}

		w.logger.Info("stage succeeded",
			"stage_id", stage.ID,
			"job_id", stage.JobID,
			"type", stage.Type,
			"attempt", stage.Attempt,
			"output_ref", output.Ref,
		)

		return w.publishCompletion(ctx, stage)
	}

	// Контекст worker'а отменён (shutdown) — попытку не засчитываем,
	// stage останется в БД и будет подхвачен через polling/janitor
	if ctx.Err() != nil {
		return ctx.Err()
	}

	stage.MarkFailedPermanent(provider.KindOf(execErr), messageOf(execErr))
	if err := w.updateStage(ctx, stage); err != nil {
		return fmt.Errorf("update stage to failed: %w", err)
	}

	w.logger.Warn("stage failed permanently",
		"stage_id", stage.ID,
		"job_id", stage.JobID,
		"type", stage.Type,
		"attempt", stage.Attempt,
		"error_kind", stage.ErrorKind,
		"error", stage.Error,
	)

	return w.publishCompletion(ctx, stage)
}

// claimStage атомарно переводит stage в RUNNING, начиная новую попытку.
// Проигравший гонку конкурент получает ErrStageNotReady. Без репозитория
// (unit-тесты) переход выполняется в памяти.
func (w *Worker) claimStage(ctx context.Context, stage *domain.Stage) (*domain.Stage, error) {
	if w.stageRepo == nil {
		stage.MarkRunning()
		return stage, nil
	}

	claimed, err := w.stageRepo.ClaimForRun(ctx, stage.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Stage уже забран другим worker'ом
			return nil, ErrStageNotReady
		}
		return nil, fmt.Errorf("claim stage: %w", err)
	}
	return claimed, nil
}

// executeWithRetry выполняет stage с retry согласно RetryPolicy.
//
// Transient-ошибки (сеть, таймауты, rate-limit) ретраятся внутри:
// в очередь уходит только финальный итог. Permanent-ошибка обрывает
// попытки сразу; исчерпание попыток тоже делает stage окончательно
// упавшим. Каждая попытка ограничена wall-clock дедлайном — его
// превышение считается transient-ошибкой попытки.
func (w *Worker) executeWithRetry(ctx context.Context, stage *domain.Stage, spec *domain.JobSpec, policy domain.RetryPolicy, deadline time.Duration) (*provider.StageOutput, error) {
	prov, err := w.registry.Get(stage.Type)
	if err != nil {
		return nil, provider.Permanent("%v", err)
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error

	for {
		started := time.Now()
		output, attemptErr := w.attempt(ctx, prov, stage, spec, deadline)
		elapsed := time.Since(started)

		if attemptErr == nil {
			telemetry.StageAttempt(string(stage.Type), "succeeded", elapsed)
			return output, nil
		}
		lastErr = attemptErr

		// Permanent-ошибка — retry бессмыслен
		if provider.KindOf(attemptErr) == domain.ErrorKindPermanent {
			telemetry.StageAttempt(string(stage.Type), "permanent", elapsed)
			return nil, attemptErr
		}

		telemetry.StageAttempt(string(stage.Type), "transient", elapsed)

		// Фиксируем transient-падение попытки
		stage.MarkFailedTransient(messageOf(attemptErr))
		if err := w.updateStage(ctx, stage); err != nil {
			return nil, fmt.Errorf("update stage to failed_transient: %w", err)
		}

		if !stage.CanRetry(maxAttempts) {
			break
		}

		delay := policy.NextDelay(stage.Attempt)

		w.logger.Debug("retrying stage",
			"stage_id", stage.ID,
			"type", stage.Type,
			"attempt", stage.Attempt,
			"delay", delay,
			"error", messageOf(attemptErr),
		)

		// Ждём с учётом context
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		// Сброс и новая попытка
		stage.ResetForRetry()
		stage.MarkRunning()
		if err := w.updateStage(ctx, stage); err != nil {
			return nil, fmt.Errorf("update stage for retry: %w", err)
		}
	}

	return nil, fmt.Errorf("attempts exhausted (%d): %w", stage.Attempt, lastErr)
}

// attempt выполняет одну попытку вызова провайдера с wall-clock дедлайном.
func (w *Worker) attempt(ctx context.Context, prov provider.Provider, stage *domain.Stage, spec *domain.JobSpec, deadline time.Duration) (*provider.StageOutput, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	input := &provider.StageInput{
		JobID:   stage.JobID,
		StageID: stage.ID,
		Attempt: stage.Attempt,
		Type:    stage.Type,
		Spec:    *spec,
		Inputs:  stage.Inputs,
	}

	return prov.Submit(attemptCtx, input)
}

// publishCompletion публикует итог выполнения stage.
func (w *Worker) publishCompletion(ctx context.Context, stage *domain.Stage) error {
	if w.publisher == nil {
		w.logger.Warn("publisher not available, skipping stage.completed publish",
			"stage_id", stage.ID,
		)
		return nil
	}

	payload := mq.StageCompletedPayload{
		StageID:   stage.ID,
		JobID:     stage.JobID,
		Type:      stage.Type,
		Status:    stage.Status,
		OutputRef: stage.OutputRef,
		ErrorKind: stage.ErrorKind,
		Error:     stage.Error,
		Attempt:   stage.Attempt,
	}

	if err := w.publisher.PublishStageCompleted(ctx, payload); err != nil {
		w.logger.Warn("failed to publish stage.completed",
			"stage_id", stage.ID,
			"error", err,
		)
		// Не возвращаем ошибку — stage обновлён в БД, оркестратор
		// восстановит состояние через janitor/poll
	}

	return nil
}

// updateStage персистит stage; nil-репозиторий допустим в unit-тестах.
func (w *Worker) updateStage(ctx context.Context, stage *domain.Stage) error {
	if w.stageRepo == nil {
		return nil
	}
	return w.stageRepo.Update(ctx, stage)
}

// messageOf извлекает текст ошибки провайдера без служебных префиксов.
func messageOf(err error) string {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return perr.Message
	}
	return err.Error()
}
