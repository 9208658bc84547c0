package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StageType — тип stage, привязанный к одной внешней capability.
type StageType string

const (
	// StageTypeScript — генерация сценария (текст).
	StageTypeScript StageType = "script"

	// StageTypeImage — генерация изображений для сцен.
	StageTypeImage StageType = "image"

	// StageTypeAudio — генерация закадровой озвучки (TTS).
	StageTypeAudio StageType = "audio"

	// StageTypeVideo — генерация видеосегментов.
	StageTypeVideo StageType = "video"

	// StageTypeStitch — сборка финального ролика из outputs группы 2.
	StageTypeStitch StageType = "stitch"
)

// ParseStageType парсит строку в StageType.
func ParseStageType(s string) (StageType, error) {
	switch StageType(s) {
	case StageTypeScript, StageTypeImage, StageTypeAudio, StageTypeVideo, StageTypeStitch:
		return StageType(s), nil
	default:
		return "", fmt.Errorf("unknown stage type: %q", s)
	}
}

// Stage — единица работы внутри job, привязанная к одной
// внешней generation capability.
//
// Stages создаются вместе с job из pipeline definition и после
// этого не добавляются и не удаляются. Выполняется stage worker'ом
// (Stage Executor), но все записи статусов идут через Orchestrator
// или от его имени — worker пишет только свои этапные переходы
// (RUNNING, FAILED_TRANSIENT) и итоговый результат попытки.
type Stage struct {
	// ID — уникальный идентификатор stage.
	ID uuid.UUID `json:"id"`

	// JobID — ссылка на родительский job.
	JobID uuid.UUID `json:"job_id"`

	// Type — тип stage (script, image, audio, video, stitch).
	Type StageType `json:"type"`

	// Group — номер группы в pipeline (1..N). Stages одной группы
	// диспетчеризуются вместе (fan-out) и гейтят следующую группу (fan-in).
	Group int `json:"group"`

	// Status — текущий статус stage.
	Status StageStatus `json:"status"`

	// Attempt — номер попытки (с 1). Увеличивается при каждом MarkRunning.
	Attempt int `json:"attempt"`

	// DependsOn — ID stages, от которых зависит этот stage.
	// Stage становится READY только когда все они SUCCEEDED.
	DependsOn []uuid.UUID `json:"depends_on,omitempty"`

	// Inputs — ссылки на артефакты зависимостей (тип stage → artifact ref).
	// Заполняются Orchestrator'ом при переводе в READY.
	Inputs map[string]string `json:"inputs,omitempty"`

	// OutputRef — ссылка на произведённый артефакт. Заполняется при SUCCEEDED.
	OutputRef string `json:"output_ref,omitempty"`

	// ErrorKind — классификация последней ошибки (transient | permanent).
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// Error — текст последней ошибки провайдера, сохраняется дословно.
	Error string `json:"error,omitempty"`

	// DispatchedAt — время отправки в очередь stages.ready.
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`

	// StartedAt — время начала текущей попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время терминального перехода.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания stage.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность последней попытки.
func (s *Stage) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

// IsFinished возвращает true, если stage в терминальном статусе.
func (s *Stage) IsFinished() bool {
	return s.Status.IsTerminal()
}

// MarkReady переводит stage в READY с входными артефактами зависимостей.
func (s *Stage) MarkReady(inputs map[string]string) {
	s.Status = StageStatusReady
	s.Inputs = inputs
}

// MarkDispatched переводит stage в DISPATCHED.
func (s *Stage) MarkDispatched() {
	now := time.Now()
	s.Status = StageStatusDispatched
	s.DispatchedAt = &now
}

// MarkRunning переводит stage в RUNNING и начинает новую попытку.
func (s *Stage) MarkRunning() {
	now := time.Now()
	s.Status = StageStatusRunning
	s.StartedAt = &now
	s.Attempt++
}

// MarkSucceeded переводит stage в SUCCEEDED со ссылкой на артефакт.
func (s *Stage) MarkSucceeded(outputRef string) {
	now := time.Now()
	s.Status = StageStatusSucceeded
	s.FinishedAt = &now
	s.OutputRef = outputRef
	s.ErrorKind = ""
	s.Error = ""
}

// MarkFailedTransient фиксирует transient-ошибку попытки.
// Статус не терминальный: executor сделает retry.
func (s *Stage) MarkFailedTransient(err string) {
	s.Status = StageStatusFailedTransient
	s.ErrorKind = ErrorKindTransient
	s.Error = err
}

// MarkFailedPermanent переводит stage в терминальный FAILED_PERMANENT.
func (s *Stage) MarkFailedPermanent(kind ErrorKind, err string) {
	now := time.Now()
	s.Status = StageStatusFailedPermanent
	s.FinishedAt = &now
	s.ErrorKind = kind
	s.Error = err
}

// MarkCancelled переводит stage в CANCELLED.
// Допустимо только для недиспетчеризованных stages.
func (s *Stage) MarkCancelled() {
	now := time.Now()
	s.Status = StageStatusCancelled
	s.FinishedAt = &now
}

// ResetForRetry подготавливает stage к следующей попытке.
// Attempt сохраняется — увеличится в MarkRunning.
func (s *Stage) ResetForRetry() {
	s.Status = StageStatusDispatched
	s.StartedAt = nil
	s.FinishedAt = nil
}

// CanRetry проверяет, остались ли попытки.
func (s *Stage) CanRetry(maxAttempts int) bool {
	return s.Attempt < maxAttempts
}

// AttemptKey возвращает ключ идемпотентности попытки.
// Дубль доставки completion-события с тем же ключом не имеет эффекта.
func (s *Stage) AttemptKey() string {
	return fmt.Sprintf("%s:%s:%d", s.JobID, s.ID, s.Attempt)
}
