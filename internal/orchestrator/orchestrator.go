package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
	"github.com/shaiso/Reelforge/internal/mq"
	"github.com/shaiso/Reelforge/internal/repo"
	"github.com/shaiso/Reelforge/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// Orchestrator управляет выполнением jobs.
//
// Orchestrator — центральный компонент системы, который:
//   - Получает новые jobs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет QUEUED jobs в БД (polling fallback)
//   - Диспетчеризует группы stages по мере выполнения зависимостей
//   - Применяет итоги stages (fan-in, fail-fast, отмена)
//   - Финализирует jobs (COMPLETED/FAILED/CANCELLED)
//
// Все переходы статусов job и недиспетчеризованных stages пишет
// только Orchestrator: один писатель, гонки исключены по построению.
type Orchestrator struct {
	// Repositories
	jobRepo   *repo.JobRepo
	stageRepo *repo.StageRepo

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Active jobs — jobs в процессе выполнения (jobID → state)
	activeJobs map[uuid.UUID]*JobState
	mu         sync.RWMutex

	// Consumers
	jobConsumer    *mq.Consumer
	cancelConsumer *mq.Consumer
	stageConsumer  *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Repositories
	JobRepo   *repo.JobRepo
	StageRepo *repo.StageRepo

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество jobs за один poll (default: 100)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		jobRepo:      cfg.JobRepo,
		stageRepo:    cfg.StageRepo,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		activeJobs:   make(map[uuid.UUID]*JobState),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Orchestrator.
//
// Запускает:
//   - Consumer для jobs.submitted
//   - Consumer для jobs.cancelled
//   - Consumer для stages.completed
//   - Polling горутину для fallback
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
	)

	o.jobConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueJobsSubmitted),
		Handler:  o.handleJobSubmitted,
		Prefetch: 10,
	})

	o.cancelConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueJobsCancelled),
		Handler:  o.handleJobCancelled,
		Prefetch: 10,
	})

	o.stageConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueStagesCompleted),
		Handler:  o.handleStageCompleted,
		Prefetch: 10,
	})

	consumers := []*mq.Consumer{o.jobConsumer, o.cancelConsumer, o.stageConsumer}
	for _, c := range consumers {
		consumer := c
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("consumer error", "error", err)
			}
		}()
	}

	// Запускаем polling
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator.
func (o *Orchestrator) Stop() {
	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}

	for _, c := range []*mq.Consumer{o.jobConsumer, o.cancelConsumer, o.stageConsumer} {
		if c != nil {
			c.Stop()
		}
	}

	// Ждём завершения горутин
	o.wg.Wait()

	o.logger.Info("orchestrator stopped",
		"active_jobs", len(o.activeJobs),
	)
}

// pollLoop — цикл polling для fallback.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем jobs, созданные пока были выключены)
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling: подхватывает QUEUED jobs,
// jobs с запрошенной отменой и итоги stages, чьи события потерялись.
func (o *Orchestrator) poll(ctx context.Context) {
	o.pollQueued(ctx)
	o.pollCancelRequested(ctx)
	o.pollRunning(ctx)
	o.pollActiveCompletions(ctx)
}

// pollRunning возвращает в память RUNNING jobs, потерянные при рестарте.
func (o *Orchestrator) pollRunning(ctx context.Context) {
	jobs, err := o.jobRepo.ListByStatus(ctx, domain.JobStatusRunning, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list running jobs", "error", err)
		return
	}

	for i := range jobs {
		if o.isJobActive(jobs[i].ID) {
			continue
		}

		if _, err := o.restoreJobState(ctx, jobs[i].ID); err != nil {
			o.logger.Error("failed to restore running job",
				"job_id", jobs[i].ID,
				"error", err,
			)
		}
	}
}

// pollActiveCompletions сверяет активные jobs с БД: stage, завершённый
// worker'ом без события (брокер недоступен, сообщение потеряно),
// применяется из записи в хранилище.
func (o *Orchestrator) pollActiveCompletions(ctx context.Context) {
	o.mu.RLock()
	states := make([]*JobState, 0, len(o.activeJobs))
	for _, s := range o.activeJobs {
		states = append(states, s)
	}
	o.mu.RUnlock()

	for _, state := range states {
		if err := o.reconcileJob(ctx, state); err != nil {
			o.logger.Error("failed to reconcile job",
				"job_id", state.JobID(),
				"error", err,
			)
		}
	}
}

// pollQueued подхватывает jobs, ожидающие обработки.
func (o *Orchestrator) pollQueued(ctx context.Context) {
	jobs, err := o.jobRepo.ListByStatus(ctx, domain.JobStatusQueued, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list queued jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	o.logger.Debug("poll found queued jobs", "count", len(jobs))

	for i := range jobs {
		job := &jobs[i]

		if o.isJobActive(job.ID) {
			continue
		}

		if err := o.processJob(ctx, job.ID); err != nil {
			o.logger.Error("failed to process job from poll",
				"job_id", job.ID,
				"error", err,
			)
		}
	}
}

// pollCancelRequested подхватывает запросы отмены.
// Покрывает случай потери события jobs.cancelled и отмену jobs,
// не находящихся в памяти этого инстанса.
func (o *Orchestrator) pollCancelRequested(ctx context.Context) {
	jobs, err := o.jobRepo.ListCancelRequested(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list cancel-requested jobs", "error", err)
		return
	}

	for i := range jobs {
		if err := o.processCancellation(ctx, jobs[i].ID); err != nil {
			o.logger.Error("failed to process cancellation from poll",
				"job_id", jobs[i].ID,
				"error", err,
			)
		}
	}
}

// isJobActive проверяет, находится ли job в обработке.
func (o *Orchestrator) isJobActive(jobID uuid.UUID) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.activeJobs[jobID]
	return exists
}

// getActiveJob возвращает активный JobState.
func (o *Orchestrator) getActiveJob(jobID uuid.UUID) *JobState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeJobs[jobID]
}

// addActiveJob добавляет job в активные.
func (o *Orchestrator) addActiveJob(state *JobState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeJobs[state.JobID()]; exists {
		return ErrJobAlreadyActive
	}

	o.activeJobs[state.JobID()] = state
	telemetry.SetActiveJobs(len(o.activeJobs))
	return nil
}

// removeActiveJob удаляет job из активных.
func (o *Orchestrator) removeActiveJob(jobID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeJobs, jobID)
	telemetry.SetActiveJobs(len(o.activeJobs))
}

// ActiveJobsCount возвращает количество активных jobs.
func (o *Orchestrator) ActiveJobsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeJobs)
}
