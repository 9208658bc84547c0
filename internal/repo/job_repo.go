package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Reelforge/internal/domain"
)

// JobRepo — репозиторий для работы с jobs.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

const jobColumns = `
	id, platform, audience, topic, duration_sec, tone,
	status, cancel_requested, error, final_artifact,
	started_at, finished_at, created_at
`

// CreateWithStages создаёт job вместе с полным графом stages
// одной транзакцией: либо виден весь граф, либо ничего.
func (r *JobRepo) CreateWithStages(ctx context.Context, job *domain.Job, stages []domain.Stage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, platform, audience, topic, duration_sec, tone,
		                  status, cancel_requested, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		job.ID,
		job.Spec.Platform,
		nullString(job.Spec.Audience),
		job.Spec.Topic,
		job.Spec.DurationSec,
		nullString(job.Spec.Tone),
		job.Status,
		job.CancelRequested,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for i := range stages {
		if err := insertStage(ctx, tx, &stages[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// Update обновляет мутируемые поля job.
func (r *JobRepo) Update(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET status = $2, cancel_requested = $3, error = $4,
		    final_artifact = $5, started_at = $6, finished_at = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.CancelRequested,
		nullString(job.Error),
		nullString(job.FinalArtifact),
		job.StartedAt,
		job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RequestCancel выставляет cancel_requested для незавершённого job.
// Для терминального job возвращает ErrInvalidState.
func (r *JobRepo) RequestCancel(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET cancel_requested = TRUE
		WHERE id = $1 AND status IN ('QUEUED', 'RUNNING')
	`, id)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Либо job нет, либо он уже терминальный
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

// ListByStatus возвращает jobs в указанном статусе (старые первыми).
func (r *JobRepo) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListCancelRequested возвращает незавершённые jobs с запрошенной отменой.
func (r *JobRepo) ListCancelRequested(ctx context.Context, limit int) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE cancel_requested = TRUE AND status IN ('QUEUED', 'RUNNING')
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list cancel-requested jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// List возвращает jobs с фильтрацией для API.
func (r *JobRepo) List(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE ($1::text IS NULL OR status = $1::job_status)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		filter.Limit,
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// DeleteFinishedBefore удаляет терминальные jobs старше cutoff
// (stages удаляются каскадом). Возвращает количество удалённых.
func (r *JobRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('COMPLETED', 'FAILED', 'CANCELLED') AND finished_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return result.RowsAffected(), nil
}

// --- Helpers ---

// JobFilter — параметры фильтрации jobs.
type JobFilter struct {
	Status domain.JobStatus
	Limit  int
	Offset int
}

// scanJob сканирует одну строку в Job.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var audience, tone, jobError, finalArtifact *string

	err := row.Scan(
		&job.ID,
		&job.Spec.Platform,
		&audience,
		&job.Spec.Topic,
		&job.Spec.DurationSec,
		&tone,
		&job.Status,
		&job.CancelRequested,
		&jobError,
		&finalArtifact,
		&job.StartedAt,
		&job.FinishedAt,
		&job.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if audience != nil {
		job.Spec.Audience = *audience
	}
	if tone != nil {
		job.Spec.Tone = *tone
	}
	if jobError != nil {
		job.Error = *jobError
	}
	if finalArtifact != nil {
		job.FinalArtifact = *finalArtifact
	}

	return &job, nil
}

// collectJobs сканирует все строки результата.
func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
