package domain

// JobStatus — статус выполнения job.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → COMPLETED
//	                 ↘ FAILED
//	         (или) → CANCELLED (из QUEUED или RUNNING)
//
// Статус job — производная функция от статусов его stages (см. пакет status),
// никогда не выставляется независимо.
type JobStatus string

const (
	// JobStatusQueued — job создан, граф stages ещё не взят в работу.
	JobStatusQueued JobStatus = "QUEUED"

	// JobStatusRunning — job в процессе выполнения.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusCompleted — все stages завершились успешно, финальный артефакт готов.
	JobStatusCompleted JobStatus = "COMPLETED"

	// JobStatusFailed — хотя бы один stage упал окончательно (fail-fast).
	JobStatusFailed JobStatus = "FAILED"

	// JobStatusCancelled — отмена запрошена и все dispatched stages дозавершились.
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (job завершён).
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// StageStatus — статус выполнения stage.
//
// Жизненный цикл:
//
//	PENDING → READY → DISPATCHED → RUNNING → SUCCEEDED
//	                                       ↘ FAILED_TRANSIENT (→ retry → RUNNING)
//	                                       ↘ FAILED_PERMANENT
//	PENDING/READY → CANCELLED
//
// Переходы монотонны: из терминального статуса stage не возвращается.
type StageStatus string

const (
	// StageStatusPending — stage создан, зависимости ещё не выполнены.
	StageStatusPending StageStatus = "PENDING"

	// StageStatusReady — все зависимости SUCCEEDED, stage ждёт диспетчеризации.
	StageStatusReady StageStatus = "READY"

	// StageStatusDispatched — stage отправлен в очередь, worker ещё не взял.
	StageStatusDispatched StageStatus = "DISPATCHED"

	// StageStatusRunning — попытка выполняется worker'ом.
	StageStatusRunning StageStatus = "RUNNING"

	// StageStatusSucceeded — stage завершён, output записан.
	StageStatusSucceeded StageStatus = "SUCCEEDED"

	// StageStatusFailedTransient — попытка упала с transient-ошибкой,
	// executor сделает retry (статус не терминальный).
	StageStatusFailedTransient StageStatus = "FAILED_TRANSIENT"

	// StageStatusFailedPermanent — stage упал окончательно
	// (permanent-ошибка или исчерпаны попытки).
	StageStatusFailedPermanent StageStatus = "FAILED_PERMANENT"

	// StageStatusCancelled — stage отменён до диспетчеризации.
	StageStatusCancelled StageStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageStatusSucceeded, StageStatusFailedPermanent, StageStatusCancelled:
		return true
	default:
		return false
	}
}

// InFlight возвращает true, если по stage есть незавершённая работа у worker'а.
func (s StageStatus) InFlight() bool {
	switch s {
	case StageStatusDispatched, StageStatusRunning, StageStatusFailedTransient:
		return true
	default:
		return false
	}
}

// ErrorKind — классификация ошибки провайдера.
type ErrorKind string

const (
	// ErrorKindTransient — сетевые ошибки, таймауты, rate-limit; retry уместен.
	ErrorKindTransient ErrorKind = "transient"

	// ErrorKindPermanent — некорректный вход, авторизация, квота; retry бессмыслен.
	ErrorKindPermanent ErrorKind = "permanent"
)
