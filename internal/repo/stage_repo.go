package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Reelforge/internal/domain"
)

// StageRepo — репозиторий для работы со stages.
type StageRepo struct {
	pool *pgxpool.Pool
}

// NewStageRepo создаёт новый StageRepo.
func NewStageRepo(pool *pgxpool.Pool) *StageRepo {
	return &StageRepo{pool: pool}
}

const stageColumns = `
	id, job_id, type, grp, status, attempt, depends_on, inputs,
	output_ref, error_kind, error, dispatched_at, started_at, finished_at, created_at
`

// insertStage вставляет stage в рамках транзакции CreateWithStages.
func insertStage(ctx context.Context, tx pgx.Tx, stage *domain.Stage) error {
	dependsJSON, err := json.Marshal(stage.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	inputsJSON, err := json.Marshal(stage.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO stages (id, job_id, type, grp, status, attempt, depends_on, inputs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		stage.ID,
		stage.JobID,
		stage.Type,
		stage.Group,
		stage.Status,
		stage.Attempt,
		dependsJSON,
		inputsJSON,
		stage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stage %s: %w", stage.Type, err)
	}
	return nil
}

// GetByID возвращает stage по ID.
func (r *StageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Stage, error) {
	query := `SELECT ` + stageColumns + ` FROM stages WHERE id = $1`
	return scanStage(r.pool.QueryRow(ctx, query, id))
}

// ListByJobID возвращает все stages job'а в порядке групп.
func (r *StageRepo) ListByJobID(ctx context.Context, jobID uuid.UUID) ([]domain.Stage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM stages
		WHERE job_id = $1
		ORDER BY grp ASC, type ASC
	`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list stages by job_id: %w", err)
	}
	defer rows.Close()

	return collectStages(rows)
}

// Update обновляет мутируемые поля stage.
func (r *StageRepo) Update(ctx context.Context, stage *domain.Stage) error {
	inputsJSON, err := json.Marshal(stage.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	query := `
		UPDATE stages
		SET status = $2, attempt = $3, inputs = $4, output_ref = $5,
		    error_kind = $6, error = $7, dispatched_at = $8, started_at = $9, finished_at = $10
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		stage.ID,
		stage.Status,
		stage.Attempt,
		inputsJSON,
		nullString(stage.OutputRef),
		nullString(string(stage.ErrorKind)),
		nullString(stage.Error),
		stage.DispatchedAt,
		stage.StartedAt,
		stage.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimForRun атомарно забирает stage в работу: переводит
// READY/DISPATCHED в RUNNING и начинает новую попытку. Конкурент,
// проигравший гонку за тот же stage, получает ErrNotFound.
func (r *StageRepo) ClaimForRun(ctx context.Context, id uuid.UUID) (*domain.Stage, error) {
	query := `
		UPDATE stages
		SET status = 'RUNNING', attempt = attempt + 1, started_at = $2
		WHERE id = $1 AND status IN ('READY', 'DISPATCHED')
		RETURNING ` + stageColumns
	return scanStage(r.pool.QueryRow(ctx, query, id, time.Now()))
}

// ListDispatched возвращает диспетчеризованные stages активных jobs
// (polling fallback для worker'а, старые первыми). READY stages не
// возвращаются: выбор момента диспетчеризации — решение Orchestrator'а,
// worker берёт только то, что уже отдано. Stages терминальных jobs
// не возвращаются: после fail-fast или отмены недобранная работа
// не должна выполняться заново.
func (r *StageRepo) ListDispatched(ctx context.Context, limit int) ([]domain.Stage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM stages
		WHERE status = 'DISPATCHED'
		  AND job_id IN (SELECT id FROM jobs WHERE status = 'RUNNING')
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatched stages: %w", err)
	}
	defer rows.Close()

	return collectStages(rows)
}

// ListStuck возвращает stages, зависшие в DISPATCHED/RUNNING дольше cutoff
// (worker умер, не отчитавшись). Janitor вернёт их в READY.
func (r *StageRepo) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]domain.Stage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM stages
		WHERE status IN ('DISPATCHED', 'RUNNING', 'FAILED_TRANSIENT')
		  AND dispatched_at < $1
		  AND job_id IN (SELECT id FROM jobs WHERE status = 'RUNNING')
		ORDER BY dispatched_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck stages: %w", err)
	}
	defer rows.Close()

	return collectStages(rows)
}

// --- Helpers ---

// scanStage сканирует одну строку в Stage.
func scanStage(row pgx.Row) (*domain.Stage, error) {
	var stage domain.Stage
	var dependsJSON, inputsJSON []byte
	var outputRef, errorKind, stageError *string

	err := row.Scan(
		&stage.ID,
		&stage.JobID,
		&stage.Type,
		&stage.Group,
		&stage.Status,
		&stage.Attempt,
		&dependsJSON,
		&inputsJSON,
		&outputRef,
		&errorKind,
		&stageError,
		&stage.DispatchedAt,
		&stage.StartedAt,
		&stage.FinishedAt,
		&stage.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan stage: %w", err)
	}

	if dependsJSON != nil {
		if err := json.Unmarshal(dependsJSON, &stage.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshal depends_on: %w", err)
		}
	}
	if inputsJSON != nil {
		if err := json.Unmarshal(inputsJSON, &stage.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if outputRef != nil {
		stage.OutputRef = *outputRef
	}
	if errorKind != nil {
		stage.ErrorKind = domain.ErrorKind(*errorKind)
	}
	if stageError != nil {
		stage.Error = *stageError
	}

	return &stage, nil
}

// collectStages сканирует все строки результата.
func collectStages(rows pgx.Rows) ([]domain.Stage, error) {
	var stages []domain.Stage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, *stage)
	}
	return stages, rows.Err()
}
