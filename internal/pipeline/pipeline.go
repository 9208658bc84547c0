package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
)

// Ошибки pipeline definition.
var (
	// ErrEmptyDefinition — definition без групп.
	ErrEmptyDefinition = errors.New("pipeline definition has no groups")

	// ErrEmptyGroup — группа без stages.
	ErrEmptyGroup = errors.New("pipeline group has no stages")

	// ErrDuplicateStageType — тип stage встречается в definition дважды.
	ErrDuplicateStageType = errors.New("duplicate stage type in pipeline")
)

// Group — одна группа stages.
//
// Все stages группы зависят от полного набора outputs предыдущей группы
// и диспетчеризуются вместе (fan-out). Следующая группа гейтится
// логическим AND исходов текущей (fan-in).
type Group struct {
	// Types — типы stages в группе.
	Types []domain.StageType
}

// Definition — статическое описание топологии stages.
//
// Упорядоченная последовательность групп, образующая DAG.
// Definition статичен и разделяется всеми jobs одного варианта pipeline.
type Definition struct {
	// Groups — группы в порядке выполнения.
	Groups []Group
}

// Default возвращает стандартный pipeline генерации ролика:
//
//	Group 1: {script}
//	Group 2: {image, audio, video} — параллельно, каждый зависит от script
//	Group 3: {stitch} — зависит от полного набора outputs группы 2
//
// Ровно одна точка fan-out (группа 2) и одна точка fan-in (группа 3).
func Default() *Definition {
	return &Definition{
		Groups: []Group{
			{Types: []domain.StageType{domain.StageTypeScript}},
			{Types: []domain.StageType{domain.StageTypeImage, domain.StageTypeAudio, domain.StageTypeVideo}},
			{Types: []domain.StageType{domain.StageTypeStitch}},
		},
	}
}

// Validate проверяет definition: группы непусты, типы не повторяются.
func (d *Definition) Validate() error {
	if len(d.Groups) == 0 {
		return ErrEmptyDefinition
	}

	seen := make(map[domain.StageType]bool)
	for i, group := range d.Groups {
		if len(group.Types) == 0 {
			return fmt.Errorf("%w: group %d", ErrEmptyGroup, i+1)
		}
		for _, t := range group.Types {
			if seen[t] {
				return fmt.Errorf("%w: %s", ErrDuplicateStageType, t)
			}
			seen[t] = true
		}
	}

	return nil
}

// Size возвращает общее количество stages в definition.
func (d *Definition) Size() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Types)
	}
	return n
}

// Instantiate создаёт граф stages для job.
//
// Каждый stage группы N зависит от всех stages группы N-1.
// Stages первой группы сразу READY (зависимостей нет), остальные PENDING.
// Граф создаётся целиком на submission и дальше не меняется.
func (d *Definition) Instantiate(jobID uuid.UUID) ([]domain.Stage, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	stages := make([]domain.Stage, 0, d.Size())
	var prevGroup []uuid.UUID

	for i, group := range d.Groups {
		currentGroup := make([]uuid.UUID, 0, len(group.Types))

		for _, t := range group.Types {
			stage := domain.Stage{
				ID:        uuid.New(),
				JobID:     jobID,
				Type:      t,
				Group:     i + 1,
				Status:    domain.StageStatusPending,
				CreatedAt: now,
			}

			if i == 0 {
				stage.Status = domain.StageStatusReady
			} else {
				stage.DependsOn = make([]uuid.UUID, len(prevGroup))
				copy(stage.DependsOn, prevGroup)
			}

			stages = append(stages, stage)
			currentGroup = append(currentGroup, stage.ID)
		}

		prevGroup = currentGroup
	}

	return stages, nil
}

// Политики retry по типу stage. Stitch получает больше попыток:
// его ошибки — это transient I/O хранилища.
var defaultPolicies = map[domain.StageType]domain.RetryPolicy{
	domain.StageTypeScript: {MaxAttempts: 3, Backoff: domain.BackoffExponential, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
	domain.StageTypeImage:  {MaxAttempts: 3, Backoff: domain.BackoffExponential, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
	domain.StageTypeAudio:  {MaxAttempts: 3, Backoff: domain.BackoffExponential, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second},
	domain.StageTypeVideo:  {MaxAttempts: 3, Backoff: domain.BackoffExponential, InitialDelay: 5 * time.Second, MaxDelay: 60 * time.Second},
	domain.StageTypeStitch: {MaxAttempts: 5, Backoff: domain.BackoffExponential, InitialDelay: time.Second, MaxDelay: 15 * time.Second},
}

// Wall-clock дедлайны одной попытки по типу stage.
// Превышение дедлайна эквивалентно transient-ошибке провайдера.
var defaultDeadlines = map[domain.StageType]time.Duration{
	domain.StageTypeScript: 60 * time.Second,
	domain.StageTypeImage:  120 * time.Second,
	domain.StageTypeAudio:  120 * time.Second,
	domain.StageTypeVideo:  300 * time.Second,
	domain.StageTypeStitch: 120 * time.Second,
}

// PolicyFor возвращает политику retry для типа stage.
func PolicyFor(t domain.StageType) domain.RetryPolicy {
	if p, ok := defaultPolicies[t]; ok {
		return p
	}
	return domain.RetryPolicy{MaxAttempts: 1}
}

// DeadlineFor возвращает дедлайн одной попытки для типа stage.
func DeadlineFor(t domain.StageType) time.Duration {
	if d, ok := defaultDeadlines[t]; ok {
		return d
	}
	return 60 * time.Second
}

// SweepAfter возвращает полный бюджет выполнения stage типа t:
// все попытки с их wall-clock дедлайнами плюс паузы между попытками.
// Stage, не отчитавшийся дольше этого срока с момента диспетчеризации,
// потерян — его worker уже не ответит.
func SweepAfter(t domain.StageType) time.Duration {
	policy := PolicyFor(t)

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	total := time.Duration(maxAttempts) * DeadlineFor(t)
	for attempt := 1; attempt < maxAttempts; attempt++ {
		total += policy.NextDelay(attempt)
	}
	return total
}

// MinSweepAfter возвращает минимальный SweepAfter по всем известным
// типам stage — нижняя граница для выборки кандидатов sweep'а.
func MinSweepAfter() time.Duration {
	var min time.Duration
	for t := range defaultPolicies {
		if d := SweepAfter(t); min == 0 || d < min {
			min = d
		}
	}
	return min
}
