package api

import (
	"log/slog"

	"github.com/shaiso/Reelforge/internal/mq"
	"github.com/shaiso/Reelforge/internal/pipeline"
	"github.com/shaiso/Reelforge/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	jobRepo   *repo.JobRepo
	stageRepo *repo.StageRepo
	publisher *mq.Publisher
	pipeline  *pipeline.Definition
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	JobRepo   *repo.JobRepo
	StageRepo *repo.StageRepo
	Publisher *mq.Publisher

	// Pipeline — определение графа stages для новых jobs
	// (опционально; если nil — используется pipeline.Default()).
	Pipeline *pipeline.Definition

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	def := cfg.Pipeline
	if def == nil {
		def = pipeline.Default()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		jobRepo:   cfg.JobRepo,
		stageRepo: cfg.StageRepo,
		publisher: cfg.Publisher,
		pipeline:  def,
		logger:    logger,
	}
}
