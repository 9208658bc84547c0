package api

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
	"github.com/shaiso/Reelforge/internal/status"
)

// CreateJobRequest — запрос на создание job.
type CreateJobRequest struct {
	Platform    string `json:"platform"`
	Audience    string `json:"audience,omitempty"`
	Topic       string `json:"topic"`
	DurationSec int    `json:"duration_sec"`
	Tone        string `json:"tone,omitempty"`
}

// ToSpec преобразует запрос в доменный spec.
func (r *CreateJobRequest) ToSpec() domain.JobSpec {
	return domain.JobSpec{
		Platform:    r.Platform,
		Audience:    r.Audience,
		Topic:       r.Topic,
		DurationSec: r.DurationSec,
		Tone:        r.Tone,
	}
}

// JobSummary — краткое представление job для списков и submission-ответа.
// Статус отдаётся в нижнем регистре — клиентский контракт API.
type JobSummary struct {
	ID        uuid.UUID `json:"id"`
	Platform  string    `json:"platform"`
	Topic     string    `json:"topic"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// JobSummaryFromDomain строит JobSummary из доменного Job.
func JobSummaryFromDomain(job domain.Job) JobSummary {
	return JobSummary{
		ID:        job.ID,
		Platform:  job.Spec.Platform,
		Topic:     job.Spec.Topic,
		Status:    strings.ToLower(string(job.Status)),
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
	}
}

// JobDetail — полное представление job для polling:
// агрегированный статус, прогресс и состояние каждого stage.
type JobDetail struct {
	status.JobView

	Spec       domain.JobSpec `json:"spec"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// JobDetailFromDomain строит JobDetail из job и его stages.
func JobDetailFromDomain(job *domain.Job, stages []domain.Stage) JobDetail {
	return JobDetail{
		JobView:    *status.Aggregate(job, stages),
		Spec:       job.Spec,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}

// ArtifactResponse — ссылка на финальный артефакт завершённого job.
type ArtifactResponse struct {
	JobID         uuid.UUID `json:"job_id"`
	FinalArtifact string    `json:"final_artifact"`
}
