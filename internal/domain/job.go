package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Платформы, для которых генерируется контент.
const (
	PlatformYouTubeShorts = "youtube_shorts"
	PlatformTikTok        = "tiktok"
	PlatformReels         = "instagram_reels"
)

// Пределы длительности ролика в секундах.
const (
	MinDurationSec = 1
	MaxDurationSec = 600
)

// ErrInvalidSpec — spec job'а не прошёл валидацию; job не создаётся.
var ErrInvalidSpec = errors.New("invalid job spec")

// JobSpec — неизменяемое описание запроса на генерацию контента.
//
// Заполняется клиентом при submission и дальше не мутируется:
// все stages читают его read-only.
type JobSpec struct {
	// Platform — целевая платформа (youtube_shorts, tiktok, instagram_reels).
	Platform string `json:"platform"`

	// Audience — целевая аудитория (свободный текст, опционально).
	Audience string `json:"audience,omitempty"`

	// Topic — тема ролика.
	Topic string `json:"topic"`

	// DurationSec — желаемая длительность в секундах.
	DurationSec int `json:"duration_sec"`

	// Tone — тональность подачи (опционально).
	Tone string `json:"tone,omitempty"`
}

// Validate проверяет spec до создания job.
// Невалидный spec отклоняется на submission — граф stages не создаётся.
func (s *JobSpec) Validate() error {
	switch s.Platform {
	case PlatformYouTubeShorts, PlatformTikTok, PlatformReels:
	case "":
		return fmt.Errorf("%w: platform is required", ErrInvalidSpec)
	default:
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidSpec, s.Platform)
	}

	if s.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidSpec)
	}

	if s.DurationSec < MinDurationSec || s.DurationSec > MaxDurationSec {
		return fmt.Errorf("%w: duration_sec must be in [%d, %d], got %d",
			ErrInvalidSpec, MinDurationSec, MaxDurationSec, s.DurationSec)
	}

	return nil
}

// Job — один сквозной запрос на генерацию контента и его состояние.
//
// Job создаётся на submission вместе с полным графом stages
// (см. pipeline.Instantiate) и мутируется только переходами,
// которые выполняет Orchestrator. После завершения остаётся
// в хранилище для polling и аудита.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// Spec — неизменяемый запрос, с которым job был создан.
	Spec JobSpec `json:"spec"`

	// Status — текущий статус (производная от stages, см. пакет status).
	Status JobStatus `json:"status"`

	// CancelRequested — запрошена ли кооперативная отмена.
	// Выставляется API, применяется Orchestrator'ом.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Error — итоговое описание ошибки для терминального FAILED.
	Error string `json:"error,omitempty"`

	// FinalArtifact — ссылка на финальный артефакт (output stitch-stage).
	// Заполняется только при COMPLETED.
	FinalArtifact string `json:"final_artifact,omitempty"`

	// StartedAt — время перехода в RUNNING. Nil, если job ещё в очереди.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время терминального перехода.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания job.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если job ещё не завершён.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// IsFinished возвращает true, если job завершён (в любом статусе).
func (j *Job) IsFinished() bool {
	return j.Status.IsTerminal()
}

// MarkRunning переводит job в статус RUNNING.
func (j *Job) MarkRunning() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// MarkCompleted переводит job в статус COMPLETED с финальным артефактом.
func (j *Job) MarkCompleted(finalArtifact string) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.FinishedAt = &now
	j.FinalArtifact = finalArtifact
}

// MarkFailed переводит job в статус FAILED с итоговой ошибкой.
func (j *Job) MarkFailed(err string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.FinishedAt = &now
	j.Error = err
}

// MarkCancelled переводит job в статус CANCELLED.
func (j *Job) MarkCancelled() {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.FinishedAt = &now
}
