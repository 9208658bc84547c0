package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
	"github.com/shaiso/Reelforge/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5
)

// StageStore — операции worker'а над stages.
// Реализуется repo.StageRepo.
type StageStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Stage, error)
	Update(ctx context.Context, stage *domain.Stage) error
	ClaimForRun(ctx context.Context, id uuid.UUID) (*domain.Stage, error)
	ListDispatched(ctx context.Context, limit int) ([]domain.Stage, error)
}

// JobStore — операции worker'а над jobs.
// Реализуется repo.JobRepo.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
}

// Worker выполняет отдельные stages.
//
// Worker — stateless компонент системы, который:
//   - Получает stages из очереди RabbitMQ (event-driven)
//   - Периодически проверяет dispatched stages в БД (polling fallback)
//   - Вызывает generation provider по типу stage (script, image, audio, video, stitch)
//   - Классифицирует ошибки провайдера и делает retry с exponential backoff
//   - Публикует итог попытки в очередь stages.completed
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Worker struct {
	// Repositories
	stageRepo StageStore
	jobRepo   JobStore

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Provider registry
	registry *Registry

	// Consumer
	consumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Worker.
type Config struct {
	// Repositories
	StageRepo StageStore
	JobRepo   JobStore

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Provider registry (опционально; если nil — используется NewRegistry())
	Registry *Registry

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество stages за один poll (default: 50)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
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

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Worker{
		stageRepo:    cfg.StageRepo,
		jobRepo:      cfg.JobRepo,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		registry:     registry,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для stages.ready
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"providers", w.registry.Types(),
	)

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueStagesReady),
		Handler:  w.handleStageReady,
		Prefetch: defaultPrefetch,
	})

	// Запускаем consumer
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("stage consumer error", "error", err)
		}
	}()

	// Запускаем polling
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем stages, диспетчеризованные пока были выключены)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	stages, err := w.stageRepo.ListDispatched(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list dispatched stages", "error", err)
		return
	}

	if len(stages) == 0 {
		return
	}

	w.logger.Debug("poll found dispatched stages", "count", len(stages))

	for i := range stages {
		stage := &stages[i]

		if err := w.processStage(ctx, stage.ID); err != nil {
			w.logger.Error("failed to process stage from poll",
				"stage_id", stage.ID,
				"error", err,
			)
		}
	}
}
