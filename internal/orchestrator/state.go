package orchestrator

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
)

// ApplyResult — исход применения completion-события к состоянию job.
type ApplyResult int

const (
	// ApplyAccepted — событие применено, stage перешёл в терминальный статус.
	ApplyAccepted ApplyResult = iota

	// ApplyDuplicate — событие с этим (stage, attempt) уже применялось.
	ApplyDuplicate

	// ApplyStale — stage уже терминален другим исходом (поздний результат
	// discarded-работы после fail-fast или отмены).
	ApplyStale

	// ApplyUnknown — событие ссылается на stage, не объявленный в графе job.
	// Нарушение инварианта: граф фиксирован при создании job.
	ApplyUnknown
)

// JobState — состояние выполнения одного job в памяти Orchestrator'а.
//
// JobState создаётся когда Orchestrator берёт job в работу и удаляется
// при финализации (COMPLETED/FAILED/CANCELLED). Все мутации проходят
// под мьютексом: оркестратор — единственный писатель переходов job,
// поэтому гонки «двух писателей» исключены по построению.
type JobState struct {
	// Job — данные job из БД.
	Job *domain.Job

	// stages — все stages job'а (stageID → stage).
	stages map[uuid.UUID]*domain.Stage

	// applied — применённые completion-события ("stageID:attempt" → true).
	// Дубль доставки из очереди не имеет эффекта.
	applied map[string]bool

	// mu — мьютекс для потокобезопасного доступа.
	mu sync.RWMutex

	// step сериализует цепочку apply → evaluate → dispatch одного job.
	// Consumer stages.completed и reconcile-poll могут продвигать job
	// одновременно; без сериализации оба увидят одно и то же состояние
	// группы и примут решение дважды.
	step sync.Mutex
}

// NewJobState создаёт JobState из job и его полного графа stages.
// Граф фиксирован при создании job: stages не добавляются и не удаляются.
func NewJobState(job *domain.Job, stages []domain.Stage) *JobState {
	byID := make(map[uuid.UUID]*domain.Stage, len(stages))
	applied := make(map[string]bool)

	for i := range stages {
		s := &stages[i]
		byID[s.ID] = s

		// Терминальные stages из БД считаем применёнными:
		// после рестарта повторная доставка их completion-событий
		// должна быть no-op.
		if s.Status.IsTerminal() {
			applied[appliedKey(s.ID, s.Attempt)] = true
		}
	}

	return &JobState{
		Job:     job,
		stages:  byID,
		applied: applied,
	}
}

// appliedKey — ключ идемпотентности completion-события.
func appliedKey(stageID uuid.UUID, attempt int) string {
	return fmt.Sprintf("%s:%d", stageID, attempt)
}

// JobID возвращает ID job.
func (s *JobState) JobID() uuid.UUID {
	return s.Job.ID
}

// Stage возвращает stage по ID (nil, если stage не принадлежит job).
func (s *JobState) Stage(stageID uuid.UUID) *domain.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stages[stageID]
}

// Completion — итог выполнения stage, пришедший от worker'а.
type Completion struct {
	StageID   uuid.UUID
	Attempt   int
	Status    domain.StageStatus // SUCCEEDED или FAILED_PERMANENT
	OutputRef string
	ErrorKind domain.ErrorKind
	Error     string
}

// ApplyCompletion применяет итог выполнения stage к состоянию.
//
// Идемпотентность: дубль (stageID, attempt) и поздний результат для
// уже терминального stage отбрасываются без эффекта. Возвращает stage
// для персистенции при ApplyAccepted, иначе nil.
func (s *JobState) ApplyCompletion(c Completion) (*domain.Stage, ApplyResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stage, ok := s.stages[c.StageID]
	if !ok {
		return nil, ApplyUnknown
	}

	key := appliedKey(c.StageID, c.Attempt)
	if s.applied[key] {
		return nil, ApplyDuplicate
	}
	if stage.Status.IsTerminal() {
		return nil, ApplyStale
	}

	s.applied[key] = true
	stage.Attempt = c.Attempt

	switch c.Status {
	case domain.StageStatusSucceeded:
		stage.MarkSucceeded(c.OutputRef)
	default:
		stage.MarkFailedPermanent(c.ErrorKind, c.Error)
	}

	return stage, ApplyAccepted
}

// TakeReady атомарно выбирает stages для диспетчеризации: PENDING
// stages с выполненными зависимостями продвигаются в READY (Inputs
// заполняются ссылками на артефакты, тип зависимости → output ref),
// после чего всё READY переводится в DISPATCHED одним шагом под
// мьютексом. Два конкурентных вызова не могут выбрать один stage
// дважды: второй увидит его уже DISPATCHED.
//
// При запрошенной отмене ничего не выбирается.
func (s *JobState) TakeReady() []*domain.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Job.CancelRequested {
		return nil
	}

	for _, stage := range s.stages {
		if stage.Status != domain.StageStatusPending {
			continue
		}

		inputs, ok := s.depOutputs(stage)
		if !ok {
			continue
		}

		stage.MarkReady(inputs)
	}

	var taken []*domain.Stage
	for _, stage := range s.stages {
		if stage.Status == domain.StageStatusReady {
			stage.MarkDispatched()
			taken = append(taken, stage)
		}
	}

	return taken
}

// ReleaseDispatch возвращает stage из DISPATCHED обратно в READY.
// Используется когда запись DISPATCHED в БД не удалась: следующий
// TakeReady возьмёт stage повторно.
func (s *JobState) ReleaseDispatch(stage *domain.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stage.Status == domain.StageStatusDispatched {
		stage.Status = domain.StageStatusReady
		stage.DispatchedAt = nil
	}
}

// depOutputs собирает артефакты зависимостей stage.
// Возвращает ok=false, если хотя бы одна зависимость ещё не SUCCEEDED.
func (s *JobState) depOutputs(stage *domain.Stage) (map[string]string, bool) {
	inputs := make(map[string]string, len(stage.DependsOn))
	for _, depID := range stage.DependsOn {
		dep, ok := s.stages[depID]
		if !ok || dep.Status != domain.StageStatusSucceeded {
			return nil, false
		}
		inputs[string(dep.Type)] = dep.OutputRef
	}
	return inputs, true
}

// CancelUndispatched переводит все PENDING/READY stages в CANCELLED.
// Dispatched-работа не трогается: worker дозавершит попытку,
// её итог будет отброшен как stale.
func (s *JobState) CancelUndispatched() []*domain.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelled []*domain.Stage
	for _, stage := range s.stages {
		if stage.Status == domain.StageStatusPending || stage.Status == domain.StageStatusReady {
			stage.MarkCancelled()
			cancelled = append(cancelled, stage)
		}
	}
	return cancelled
}

// RequestCancel выставляет флаг отмены в состоянии.
func (s *JobState) RequestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Job.CancelRequested = true
}

// CancelRequested возвращает true, если отмена запрошена.
func (s *JobState) CancelRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Job.CancelRequested
}

// HasPermanentFailure возвращает true, если хотя бы один stage
// упал окончательно.
func (s *JobState) HasPermanentFailure() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, stage := range s.stages {
		if stage.Status == domain.StageStatusFailedPermanent {
			return true
		}
	}
	return false
}

// FirstPermanentError возвращает текст ошибки первого упавшего stage.
func (s *JobState) FirstPermanentError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, stage := range s.stages {
		if stage.Status == domain.StageStatusFailedPermanent {
			return fmt.Sprintf("stage %s failed: %s", stage.Type, stage.Error)
		}
	}
	return ""
}

// AllSucceeded возвращает true, если все stages SUCCEEDED.
func (s *JobState) AllSucceeded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, stage := range s.stages {
		if stage.Status != domain.StageStatusSucceeded {
			return false
		}
	}
	return len(s.stages) > 0
}

// Quiesced возвращает true, если ни по одному stage нет
// незавершённой работы у worker'ов. Условие финализации отмены.
func (s *JobState) Quiesced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, stage := range s.stages {
		if stage.Status.InFlight() {
			return false
		}
	}
	return true
}

// FinalArtifact возвращает output ref финального stage (stitch),
// если тот SUCCEEDED.
func (s *JobState) FinalArtifact() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, stage := range s.stages {
		if stage.Type == domain.StageTypeStitch && stage.Status == domain.StageStatusSucceeded {
			return stage.OutputRef
		}
	}
	return ""
}

// Snapshot возвращает копию всех stages для производного статуса job.
func (s *JobState) Snapshot() []domain.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Stage, 0, len(s.stages))
	for _, stage := range s.stages {
		out = append(out, *stage)
	}
	return out
}

// Stats возвращает статистику выполнения для логов.
func (s *JobState) Stats() JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := JobStats{Total: len(s.stages)}
	for _, stage := range s.stages {
		switch {
		case stage.Status == domain.StageStatusSucceeded:
			stats.Succeeded++
		case stage.Status == domain.StageStatusFailedPermanent:
			stats.Failed++
		case stage.Status == domain.StageStatusCancelled:
			stats.Cancelled++
		case stage.Status.InFlight():
			stats.InFlight++
		default:
			stats.Pending++
		}
	}
	return stats
}

// JobStats — статистика выполнения job.
type JobStats struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	InFlight  int
	Pending   int
}
