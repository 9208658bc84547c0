package status

import (
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
)

// StageView — плоское представление stage для polling-клиентов.
// Статусы отдаются в нижнем регистре — клиентский контракт API.
type StageView struct {
	ID        uuid.UUID        `json:"id"`
	Type      domain.StageType `json:"type"`
	Status    string           `json:"status"`
	Attempt   int              `json:"attempt,omitempty"`
	ErrorKind domain.ErrorKind `json:"error_kind,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// JobView — агрегированное состояние job для polling-клиентов.
// Статусы отдаются в нижнем регистре — клиентский контракт API.
type JobView struct {
	JobID         uuid.UUID   `json:"job_id"`
	Status        string      `json:"status"`
	Progress      float64     `json:"progress"`
	Stages        []StageView `json:"stages"`
	FinalArtifact string      `json:"final_artifact,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// DeriveJobStatus вычисляет статус job как чистую функцию статусов stages.
//
// Правила (в порядке приоритета):
//  1. FAILED — хотя бы один stage FAILED_PERMANENT (fail-fast)
//  2. CANCELLED — отмена запрошена и dispatched-работа quiesced
//  3. COMPLETED — все stages SUCCEEDED
//  4. RUNNING — работа начата
//  5. QUEUED — граф ещё не тронут
func DeriveJobStatus(stages []domain.Stage, cancelRequested bool) domain.JobStatus {
	anyStarted := false
	allSucceeded := true
	anyInFlight := false

	for i := range stages {
		s := &stages[i]

		if s.Status == domain.StageStatusFailedPermanent {
			return domain.JobStatusFailed
		}
		if s.Status != domain.StageStatusSucceeded {
			allSucceeded = false
		}
		if s.Status.InFlight() {
			anyInFlight = true
		}
		if s.Status != domain.StageStatusPending && s.Status != domain.StageStatusReady {
			anyStarted = true
		}
	}

	if cancelRequested && !anyInFlight {
		return domain.JobStatusCancelled
	}
	if len(stages) > 0 && allSucceeded {
		return domain.JobStatusCompleted
	}
	if anyStarted {
		return domain.JobStatusRunning
	}
	return domain.JobStatusQueued
}

// Progress возвращает долю терминальных stages: terminal / total.
//
// Терминальные статусы не откатываются (монотонность переходов),
// поэтому прогресс не убывает за время жизни job; на отмене и падении
// он замораживается — поздние исходы discarded-stages в хранилище
// не записываются.
func Progress(stages []domain.Stage) float64 {
	if len(stages) == 0 {
		return 0
	}

	terminal := 0
	for i := range stages {
		if stages[i].Status.IsTerminal() {
			terminal++
		}
	}

	return float64(terminal) / float64(len(stages))
}

// Aggregate строит JobView из job и его stages.
func Aggregate(job *domain.Job, stages []domain.Stage) *JobView {
	views := make([]StageView, len(stages))
	for i := range stages {
		s := &stages[i]
		views[i] = StageView{
			ID:        s.ID,
			Type:      s.Type,
			Status:    strings.ToLower(string(s.Status)),
			Attempt:   s.Attempt,
			ErrorKind: s.ErrorKind,
			Error:     s.Error,
		}
	}

	return &JobView{
		JobID:         job.ID,
		Status:        strings.ToLower(string(job.Status)),
		Progress:      Progress(stages),
		Stages:        views,
		FinalArtifact: job.FinalArtifact,
		Error:         job.Error,
	}
}
