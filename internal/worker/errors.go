package worker

import "errors"

// Ошибки worker'а.
var (
	// ErrStageNotFound — stage не найден в БД.
	ErrStageNotFound = errors.New("stage not found")

	// ErrStageNotReady — stage не в статусе READY/DISPATCHED.
	// Приходит при дублях доставки и гонке с другим worker'ом.
	ErrStageNotReady = errors.New("stage is not ready for execution")

	// ErrJobFinished — job уже терминален, работа по stage не нужна.
	ErrJobFinished = errors.New("job already finished")

	// ErrNoProvider — для типа stage не зарегистрирован provider.
	ErrNoProvider = errors.New("no provider registered for stage type")
)
