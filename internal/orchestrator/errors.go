package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrJobNotFound — job не найден в БД.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotQueued — job не в статусе QUEUED.
	ErrJobNotQueued = errors.New("job is not in QUEUED status")

	// ErrJobAlreadyActive — job уже обрабатывается.
	ErrJobAlreadyActive = errors.New("job already being processed")

	// ErrStageNotFound — stage не найден в графе job'а.
	// Признак повреждённого состояния: job финализируется как FAILED.
	ErrStageNotFound = errors.New("stage not found in job graph")

	// ErrEmptyGraph — у job нет stages.
	ErrEmptyGraph = errors.New("job has no stages")
)
