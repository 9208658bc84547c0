package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
	"github.com/shaiso/Reelforge/internal/repo"
)

// CreateJob создаёт job вместе с графом stages и ставит его в очередь.
// POST /api/v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	spec := req.ToSpec()

	// Невалидный spec отклоняется до создания job — граф не создаётся
	if err := spec.Validate(); err != nil {
		BadRequest(w, err.Error())
		return
	}

	job := &domain.Job{
		ID:        uuid.New(),
		Spec:      spec,
		Status:    domain.JobStatusQueued,
		CreatedAt: time.Now(),
	}

	stages, err := h.pipeline.Instantiate(job.ID)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	// Job и граф stages создаются одной транзакцией
	if err := h.jobRepo.CreateWithStages(r.Context(), job, stages); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	// Публикуем событие в очередь
	if h.publisher != nil {
		if err := h.publisher.PublishJobSubmitted(r.Context(), job.ID); err != nil {
			h.logger.Warn("failed to publish job.submitted", "job_id", job.ID, "error", err)
			// Job записан в БД — оркестратор подхватит через polling
		}
	}

	h.logger.Info("job submitted",
		"job_id", job.ID,
		"platform", job.Spec.Platform,
		"topic", job.Spec.Topic,
	)

	Created(w, JobSummaryFromDomain(*job))
}

// ListJobs возвращает список jobs с фильтрацией.
// GET /api/v1/jobs?status=...&limit=...&offset=...
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := repo.JobFilter{Limit: 50}

	// Клиенты передают статус в нижнем регистре, БД хранит верхний
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.JobStatus(strings.ToUpper(status))
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	jobs, err := h.jobRepo.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]JobSummary, len(jobs))
	for i, job := range jobs {
		result[i] = JobSummaryFromDomain(job)
	}

	List(w, result, len(result))
}

// GetJob возвращает агрегированное состояние job для polling.
// GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	stages, err := h.stageRepo.ListByJobID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	Success(w, JobDetailFromDomain(job, stages))
}

// CancelJob запрашивает кооперативную отмену job.
// POST /api/v1/jobs/{id}/cancel
//
// Отмена асинхронна: запрос фиксируется и применяется оркестратором,
// dispatched-работа не прерывается. Отмена уже терминального job — 422.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	if err := h.jobRepo.RequestCancel(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			InvalidState(w, "job is already finished")
			return
		}
		if HandleRepoError(w, h.logger, err, "job not found") {
			return
		}
	}

	// Публикуем сигнал отмены
	if h.publisher != nil {
		if err := h.publisher.PublishJobCancelled(r.Context(), id); err != nil {
			h.logger.Warn("failed to publish job.cancelled", "job_id", id, "error", err)
			// Флаг записан в БД — оркестратор подхватит через polling
		}
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	h.logger.Info("job cancellation requested", "job_id", id)

	Accepted(w, JobSummaryFromDomain(*job))
}

// GetJobArtifact возвращает ссылку на финальный артефакт.
// GET /api/v1/jobs/{id}/artifact
//
// Артефакт доступен только у COMPLETED job: для незавершённого — 409,
// для FAILED/CANCELLED — 422.
func (h *Handler) GetJobArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := h.jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		Success(w, ArtifactResponse{JobID: job.ID, FinalArtifact: job.FinalArtifact})
	case domain.JobStatusFailed, domain.JobStatusCancelled:
		InvalidState(w, "job finished without artifact: "+strings.ToLower(string(job.Status)))
	default:
		Conflict(w, "job is not finished yet")
	}
}
