package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
	"github.com/shaiso/Reelforge/internal/mq"
	"github.com/shaiso/Reelforge/internal/repo"
	"github.com/shaiso/Reelforge/internal/status"
	"github.com/shaiso/Reelforge/internal/telemetry"
)

// handleJobSubmitted обрабатывает событие о новом job.
func (o *Orchestrator) handleJobSubmitted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobSubmittedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse job.submitted payload", "error", err)
		return err
	}

	o.logger.Debug("received job.submitted event", "job_id", payload.JobID)

	if o.isJobActive(payload.JobID) {
		o.logger.Debug("job already active, skipping", "job_id", payload.JobID)
		return nil
	}

	if err := o.processJob(ctx, payload.JobID); err != nil {
		// Повторная доставка и гонка с poll — не ошибки
		if errors.Is(err, ErrJobNotQueued) || errors.Is(err, ErrJobAlreadyActive) {
			o.logger.Debug("job not processed", "job_id", payload.JobID, "reason", err)
			return nil
		}
		o.logger.Error("failed to process job", "job_id", payload.JobID, "error", err)
		return err
	}

	return nil
}

// handleJobCancelled обрабатывает сигнал отмены job.
func (o *Orchestrator) handleJobCancelled(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobCancelledPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse job.cancelled payload", "error", err)
		return err
	}

	o.logger.Debug("received job.cancelled event", "job_id", payload.JobID)

	if err := o.processCancellation(ctx, payload.JobID); err != nil {
		o.logger.Error("failed to process cancellation",
			"job_id", payload.JobID,
			"error", err,
		)
		return err
	}

	return nil
}

// handleStageCompleted обрабатывает итог выполнения stage.
func (o *Orchestrator) handleStageCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.StageCompletedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse stage.completed payload", "error", err)
		return err
	}

	o.logger.Debug("received stage.completed event",
		"stage_id", payload.StageID,
		"job_id", payload.JobID,
		"type", payload.Type,
		"status", payload.Status,
		"attempt", payload.Attempt,
	)

	if err := o.processStageCompleted(ctx, payload); err != nil {
		o.logger.Error("failed to process stage completion",
			"stage_id", payload.StageID,
			"job_id", payload.JobID,
			"error", err,
		)
		return err
	}

	return nil
}

// processJob берёт QUEUED job в работу.
func (o *Orchestrator) processJob(ctx context.Context, jobID uuid.UUID) error {
	// 1. Загружаем job из БД
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return fmt.Errorf("get job: %w", err)
	}

	// 2. Проверяем статус
	if job.Status != domain.JobStatusQueued {
		return ErrJobNotQueued
	}

	// 3. Загружаем граф stages
	stages, err := o.stageRepo.ListByJobID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list stages: %w", err)
	}
	if len(stages) == 0 {
		return o.failJob(ctx, NewJobState(job, nil), ErrEmptyGraph.Error())
	}

	state := NewJobState(job, stages)

	// 4. Отмена, запрошенная до пикапа: job отменяется целиком,
	// ни один stage не диспетчеризуется
	if job.CancelRequested {
		return o.finalizeCancelled(ctx, state)
	}

	// 5. Добавляем в активные
	if err := o.addActiveJob(state); err != nil {
		return err
	}

	// 6. Переводим job в RUNNING
	job.MarkRunning()
	if err := o.jobRepo.Update(ctx, job); err != nil {
		o.removeActiveJob(jobID)
		return fmt.Errorf("update job to running: %w", err)
	}

	o.logger.Info("job started",
		"job_id", jobID,
		"platform", job.Spec.Platform,
		"stages", len(stages),
	)

	// 7. Диспетчеризуем первую группу (создана READY при создании графа)
	state.step.Lock()
	defer state.step.Unlock()
	if err := o.dispatchReadyStages(ctx, state); err != nil {
		o.logger.Error("failed to dispatch initial stages", "job_id", jobID, "error", err)
		// Не удаляем из активных — worker подхватит через polling
	}

	return nil
}

// processStageCompleted применяет итог stage и продвигает job.
func (o *Orchestrator) processStageCompleted(ctx context.Context, payload mq.StageCompletedPayload) error {
	// 1. Получаем активный JobState
	state := o.getActiveJob(payload.JobID)

	// Если job не в памяти, пытаемся восстановить (после рестарта)
	if state == nil {
		var err error
		state, err = o.restoreJobState(ctx, payload.JobID)
		if err != nil {
			return fmt.Errorf("restore job state: %w", err)
		}
		if state == nil {
			// Job уже завершён или не существует — поздний результат отбрасывается
			o.logger.Debug("job not active and cannot restore, discarding completion",
				"job_id", payload.JobID,
				"stage_id", payload.StageID,
			)
			return nil
		}
	}

	// 2. Цепочка apply → evaluate → dispatch под per-job локом:
	// конкурентный reconcile-poll не должен оценивать группу параллельно
	state.step.Lock()
	defer state.step.Unlock()

	// 3. Применяем итог (идемпотентно)
	stage, result := state.ApplyCompletion(Completion{
		StageID:   payload.StageID,
		Attempt:   payload.Attempt,
		Status:    payload.Status,
		OutputRef: payload.OutputRef,
		ErrorKind: payload.ErrorKind,
		Error:     payload.Error,
	})

	switch result {
	case ApplyDuplicate:
		o.logger.Debug("duplicate stage completion, skipping",
			"stage_id", payload.StageID,
			"attempt", payload.Attempt,
		)
		return nil
	case ApplyStale:
		o.logger.Debug("stale stage completion, discarding",
			"stage_id", payload.StageID,
			"attempt", payload.Attempt,
		)
		return nil
	case ApplyUnknown:
		// Completion для stage, не объявленного в графе — нарушение
		// инварианта, job восстановлению не подлежит
		o.logger.Error("completion for undeclared stage, failing job",
			"job_id", payload.JobID,
			"stage_id", payload.StageID,
		)
		return o.failJob(ctx, state,
			fmt.Sprintf("orchestration error: completion for undeclared stage %s", payload.StageID))
	}

	// 4. Персистим терминальный переход stage
	if err := o.stageRepo.Update(ctx, stage); err != nil {
		return fmt.Errorf("update stage: %w", err)
	}

	telemetry.StageCompleted(string(stage.Type), string(stage.Status))

	if stage.Status == domain.StageStatusSucceeded {
		o.logger.Info("stage succeeded",
			"job_id", payload.JobID,
			"stage_id", stage.ID,
			"type", stage.Type,
			"attempt", stage.Attempt,
		)
	} else {
		o.logger.Warn("stage failed permanently",
			"job_id", payload.JobID,
			"stage_id", stage.ID,
			"type", stage.Type,
			"attempt", stage.Attempt,
			"error_kind", stage.ErrorKind,
			"error", stage.Error,
		)
	}

	// 5. Продвигаем job
	return o.advance(ctx, state)
}

// advance оценивает состояние job после применённого события
// и делает следующий шаг: финализация, отмена или диспетчеризация
// следующей группы.
func (o *Orchestrator) advance(ctx context.Context, state *JobState) error {
	// 1. Fail-fast: первый окончательно упавший stage валит job сразу,
	// не дожидаясь in-flight соседей
	if state.HasPermanentFailure() {
		return o.failJob(ctx, state, state.FirstPermanentError())
	}

	// 2. Отмена: новые stages не диспетчеризуются, job финализируется
	// когда вся dispatched-работа дозавершится
	if state.CancelRequested() {
		if err := o.persistCancelledStages(ctx, state.CancelUndispatched()); err != nil {
			return err
		}
		if state.Quiesced() {
			return o.finalizeCancelled(ctx, state)
		}
		return nil
	}

	// 3. Все stages успешны — job завершён
	if state.AllSucceeded() {
		return o.completeJob(ctx, state)
	}

	// 4. Диспетчеризуем следующую группу (fan-in → fan-out)
	return o.dispatchReadyStages(ctx, state)
}

// processCancellation обрабатывает запрос отмены job.
func (o *Orchestrator) processCancellation(ctx context.Context, jobID uuid.UUID) error {
	state := o.getActiveJob(jobID)

	// Job не в памяти: либо QUEUED (ещё не взят), либо после рестарта
	if state == nil {
		job, err := o.jobRepo.GetByID(ctx, jobID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}
			return fmt.Errorf("get job: %w", err)
		}

		// Отмена терминального job — no-op
		if job.IsFinished() {
			return nil
		}

		stages, err := o.stageRepo.ListByJobID(ctx, jobID)
		if err != nil {
			return fmt.Errorf("list stages: %w", err)
		}

		state = NewJobState(job, stages)
		state.RequestCancel()

		// QUEUED job отменяется целиком — работа не начиналась
		if job.Status == domain.JobStatusQueued {
			return o.finalizeCancelled(ctx, state)
		}

		// RUNNING job после рестарта: восстанавливаем и ведём к отмене
		if err := o.addActiveJob(state); err != nil {
			if errors.Is(err, ErrJobAlreadyActive) {
				state = o.getActiveJob(jobID)
			} else {
				return err
			}
		}
	}

	state.RequestCancel()

	o.logger.Info("job cancellation requested", "job_id", jobID)

	state.step.Lock()
	defer state.step.Unlock()

	// Недиспетчеризованные stages отменяем сразу, dispatched-работа
	// дозавершится и будет отброшена
	if err := o.persistCancelledStages(ctx, state.CancelUndispatched()); err != nil {
		return err
	}

	if state.Quiesced() {
		return o.finalizeCancelled(ctx, state)
	}

	return nil
}

// dispatchReadyStages забирает очередную порцию готовых stages
// (атомарно переведённых в DISPATCHED) и отдаёт их worker'ам.
func (o *Orchestrator) dispatchReadyStages(ctx context.Context, state *JobState) error {
	ready := state.TakeReady()
	if len(ready) == 0 {
		return nil
	}

	o.logger.Debug("dispatching ready stages",
		"job_id", state.JobID(),
		"count", len(ready),
	)

	for _, stage := range ready {
		if err := o.dispatchStage(ctx, state, stage); err != nil {
			o.logger.Error("failed to dispatch stage",
				"job_id", state.JobID(),
				"stage_id", stage.ID,
				"type", stage.Type,
				"error", err,
			)
			// Продолжаем с остальными stages группы
		}
	}

	return nil
}

// dispatchStage отдаёт один stage worker'ам.
// Stage уже DISPATCHED в памяти (TakeReady); здесь переход персистится
// и публикуется событие stage.ready.
func (o *Orchestrator) dispatchStage(ctx context.Context, state *JobState, stage *domain.Stage) error {
	if err := o.stageRepo.Update(ctx, stage); err != nil {
		// Возвращаем stage в READY — следующий advance возьмёт его снова
		state.ReleaseDispatch(stage)
		return fmt.Errorf("update stage to dispatched: %w", err)
	}

	if o.publisher != nil {
		if err := o.publisher.PublishStageReady(ctx, stage.ID, state.JobID()); err != nil {
			o.logger.Warn("failed to publish stage.ready",
				"stage_id", stage.ID,
				"job_id", state.JobID(),
				"error", err,
			)
			// Stage записан как DISPATCHED — worker заберёт через polling
		}
	}

	o.logger.Debug("stage dispatched",
		"stage_id", stage.ID,
		"job_id", state.JobID(),
		"type", stage.Type,
		"group", stage.Group,
	)

	return nil
}

// completeJob финализирует успешный job.
func (o *Orchestrator) completeJob(ctx context.Context, state *JobState) error {
	job := state.Job
	job.MarkCompleted(state.FinalArtifact())

	if err := o.jobRepo.Update(ctx, job); err != nil {
		return fmt.Errorf("update job to completed: %w", err)
	}

	o.removeActiveJob(job.ID)
	telemetry.JobFinished(string(domain.JobStatusCompleted), job.Duration())

	o.logger.Info("job completed",
		"job_id", job.ID,
		"final_artifact", job.FinalArtifact,
		"duration", job.Duration(),
	)

	return nil
}

// failJob финализирует job как FAILED (fail-fast).
// Недиспетчеризованные stages отменяются; in-flight stages дозавершатся,
// их итоги будут отброшены как stale.
func (o *Orchestrator) failJob(ctx context.Context, state *JobState, errMsg string) error {
	if err := o.persistCancelledStages(ctx, state.CancelUndispatched()); err != nil {
		return err
	}

	job := state.Job
	job.MarkFailed(errMsg)

	if err := o.jobRepo.Update(ctx, job); err != nil {
		return fmt.Errorf("update job to failed: %w", err)
	}

	o.removeActiveJob(job.ID)
	telemetry.JobFinished(string(domain.JobStatusFailed), job.Duration())

	o.logger.Warn("job failed",
		"job_id", job.ID,
		"error", errMsg,
		"stats", state.Stats(),
	)

	return nil
}

// finalizeCancelled финализирует job как CANCELLED.
// Вызывается только когда вся dispatched-работа quiesced.
func (o *Orchestrator) finalizeCancelled(ctx context.Context, state *JobState) error {
	if err := o.persistCancelledStages(ctx, state.CancelUndispatched()); err != nil {
		return err
	}

	job := state.Job
	job.CancelRequested = true
	job.MarkCancelled()

	if err := o.jobRepo.Update(ctx, job); err != nil {
		return fmt.Errorf("update job to cancelled: %w", err)
	}

	o.removeActiveJob(job.ID)
	telemetry.JobFinished(string(domain.JobStatusCancelled), job.Duration())

	o.logger.Info("job cancelled",
		"job_id", job.ID,
		"stats", state.Stats(),
	)

	return nil
}

// persistCancelledStages записывает отменённые stages в БД.
func (o *Orchestrator) persistCancelledStages(ctx context.Context, cancelled []*domain.Stage) error {
	for _, stage := range cancelled {
		if err := o.stageRepo.Update(ctx, stage); err != nil {
			return fmt.Errorf("update cancelled stage %s: %w", stage.ID, err)
		}
	}
	return nil
}

// reconcileJob применяет к JobState итоги stages, записанные в БД
// напрямую (worker не смог опубликовать stage.completed).
// Применение идемпотентно, свежие события дубли не создают.
func (o *Orchestrator) reconcileJob(ctx context.Context, state *JobState) error {
	state.step.Lock()
	defer state.step.Unlock()

	stages, err := o.stageRepo.ListByJobID(ctx, state.JobID())
	if err != nil {
		return fmt.Errorf("list stages: %w", err)
	}

	applied := 0
	for i := range stages {
		s := &stages[i]
		if s.Status != domain.StageStatusSucceeded && s.Status != domain.StageStatusFailedPermanent {
			continue
		}

		_, result := state.ApplyCompletion(Completion{
			StageID:   s.ID,
			Attempt:   s.Attempt,
			Status:    s.Status,
			OutputRef: s.OutputRef,
			ErrorKind: s.ErrorKind,
			Error:     s.Error,
		})
		if result == ApplyAccepted {
			applied++
		}
	}

	if applied == 0 {
		return nil
	}

	o.logger.Info("reconciled stage completions from store",
		"job_id", state.JobID(),
		"count", applied,
	)

	return o.advance(ctx, state)
}

// restoreJobState восстанавливает JobState из БД.
// Используется когда stage.completed приходит для job, которого нет
// в памяти (после рестарта Orchestrator).
func (o *Orchestrator) restoreJobState(ctx context.Context, jobID uuid.UUID) (*JobState, error) {
	job, err := o.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil // Job не существует
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	// Терминальный job не восстанавливаем — поздние итоги отбрасываются
	if job.IsFinished() {
		return nil, nil
	}

	stages, err := o.stageRepo.ListByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}

	state := NewJobState(job, stages)

	if err := o.addActiveJob(state); err != nil {
		if errors.Is(err, ErrJobAlreadyActive) {
			// Кто-то уже восстановил — возвращаем его
			return o.getActiveJob(jobID), nil
		}
		return nil, err
	}

	o.logger.Info("job state restored",
		"job_id", jobID,
		"status", status.DeriveJobStatus(state.Snapshot(), job.CancelRequested),
		"stats", state.Stats(),
	)

	return state, nil
}

