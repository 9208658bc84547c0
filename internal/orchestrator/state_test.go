package orchestrator

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
	"github.com/shaiso/Reelforge/internal/pipeline"
)

// newTestState строит JobState из дефолтного pipeline.
func newTestState(t *testing.T) *JobState {
	t.Helper()

	job := &domain.Job{
		ID:     uuid.New(),
		Status: domain.JobStatusRunning,
	}

	stages, err := pipeline.Default().Instantiate(job.ID)
	if err != nil {
		t.Fatalf("instantiate pipeline: %v", err)
	}

	return NewJobState(job, stages)
}

// stageByType находит stage по типу.
func stageByType(t *testing.T, state *JobState, st domain.StageType) *domain.Stage {
	t.Helper()

	for _, s := range state.Snapshot() {
		if s.Type == st {
			return state.Stage(s.ID)
		}
	}
	t.Fatalf("stage %s not found", st)
	return nil
}

// succeed применяет успешный итог stage.
func succeed(t *testing.T, state *JobState, st domain.StageType, ref string) {
	t.Helper()

	stage := stageByType(t, state, st)
	stage.MarkRunning()
	_, result := state.ApplyCompletion(Completion{
		StageID:   stage.ID,
		Attempt:   stage.Attempt,
		Status:    domain.StageStatusSucceeded,
		OutputRef: ref,
	})
	if result != ApplyAccepted {
		t.Fatalf("completion for %s not accepted: %v", st, result)
	}
}

func TestJobState_HappyPath(t *testing.T) {
	state := newTestState(t)

	// Группа 1 создана READY и забирается первой
	taken := state.TakeReady()
	if len(taken) != 1 || taken[0].Type != domain.StageTypeScript {
		t.Fatalf("expected script in first batch, got %d stages", len(taken))
	}
	if taken[0].Status != domain.StageStatusDispatched {
		t.Fatalf("taken stage status = %s, want DISPATCHED", taken[0].Status)
	}

	// Повторный вызов пуст: script уже взят, группа 2 гейтится
	if again := state.TakeReady(); len(again) != 0 {
		t.Fatalf("nothing should be selectable before script finishes, got %d", len(again))
	}

	// Script завершается — открывается группа 2 (image, audio, video)
	succeed(t, state, domain.StageTypeScript, "blob://script")

	taken = state.TakeReady()
	if len(taken) != 3 {
		t.Fatalf("expected 3 stages after script, got %d", len(taken))
	}
	for _, s := range taken {
		if s.Status != domain.StageStatusDispatched {
			t.Errorf("stage %s status = %s, want DISPATCHED", s.Type, s.Status)
		}
		if s.Inputs["script"] != "blob://script" {
			t.Errorf("stage %s missing script input: %v", s.Type, s.Inputs)
		}
	}

	// Группа 2 завершается частично — stitch ещё не готов
	succeed(t, state, domain.StageTypeImage, "blob://image")
	succeed(t, state, domain.StageTypeAudio, "blob://audio")

	if taken := state.TakeReady(); len(taken) != 0 {
		t.Fatalf("stitch selected before video finished")
	}

	// Video завершается — stitch получает inputs всей группы 2
	succeed(t, state, domain.StageTypeVideo, "blob://video")

	taken = state.TakeReady()
	if len(taken) != 1 || taken[0].Type != domain.StageTypeStitch {
		t.Fatalf("expected stitch, got %d stages", len(taken))
	}
	inputs := taken[0].Inputs
	if inputs["video"] != "blob://video" || inputs["audio"] != "blob://audio" || inputs["image"] != "blob://image" {
		t.Errorf("stitch inputs incomplete: %v", inputs)
	}

	// Stitch завершается — job готов
	succeed(t, state, domain.StageTypeStitch, "blob://final")

	if !state.AllSucceeded() {
		t.Error("AllSucceeded() = false after full pipeline")
	}
	if got := state.FinalArtifact(); got != "blob://final" {
		t.Errorf("FinalArtifact() = %q, want blob://final", got)
	}
}

func TestJobState_DuplicateCompletion(t *testing.T) {
	state := newTestState(t)
	script := stageByType(t, state, domain.StageTypeScript)
	script.MarkRunning()

	c := Completion{
		StageID:   script.ID,
		Attempt:   script.Attempt,
		Status:    domain.StageStatusSucceeded,
		OutputRef: "blob://script",
	}

	if _, result := state.ApplyCompletion(c); result != ApplyAccepted {
		t.Fatalf("first delivery: %v, want accepted", result)
	}
	if _, result := state.ApplyCompletion(c); result != ApplyDuplicate {
		t.Errorf("second delivery: %v, want duplicate", result)
	}
	if script.OutputRef != "blob://script" {
		t.Errorf("duplicate delivery mutated stage: %q", script.OutputRef)
	}
}

func TestJobState_StaleCompletionDiscarded(t *testing.T) {
	state := newTestState(t)
	script := stageByType(t, state, domain.StageTypeScript)
	script.MarkRunning()
	script.MarkFailedPermanent(domain.ErrorKindPermanent, "invalid topic")

	// Поздний успех другой попытки для уже терминального stage
	_, result := state.ApplyCompletion(Completion{
		StageID:   script.ID,
		Attempt:   script.Attempt + 1,
		Status:    domain.StageStatusSucceeded,
		OutputRef: "blob://late",
	})

	if result != ApplyStale {
		t.Errorf("ApplyCompletion() = %v, want stale", result)
	}
	if script.Status != domain.StageStatusFailedPermanent {
		t.Errorf("terminal stage mutated: %s", script.Status)
	}
}

func TestJobState_UnknownStage(t *testing.T) {
	state := newTestState(t)

	_, result := state.ApplyCompletion(Completion{
		StageID: uuid.New(),
		Attempt: 1,
		Status:  domain.StageStatusSucceeded,
	})

	if result != ApplyUnknown {
		t.Errorf("ApplyCompletion() = %v, want unknown for undeclared stage", result)
	}
}

func TestJobState_FailFast(t *testing.T) {
	state := newTestState(t)
	state.TakeReady()
	succeed(t, state, domain.StageTypeScript, "blob://script")
	state.TakeReady()

	// Image падает окончательно, video остаётся в работе
	image := stageByType(t, state, domain.StageTypeImage)
	image.MarkRunning()
	video := stageByType(t, state, domain.StageTypeVideo)
	video.MarkRunning()

	if _, result := state.ApplyCompletion(Completion{
		StageID:   image.ID,
		Attempt:   image.Attempt,
		Status:    domain.StageStatusFailedPermanent,
		ErrorKind: domain.ErrorKindPermanent,
		Error:     "content policy violation",
	}); result != ApplyAccepted {
		t.Fatalf("failure completion not accepted: %v", result)
	}

	if !state.HasPermanentFailure() {
		t.Fatal("HasPermanentFailure() = false")
	}
	if msg := state.FirstPermanentError(); msg != "stage image failed: content policy violation" {
		t.Errorf("FirstPermanentError() = %q", msg)
	}

	// Недиспетчеризованные stages отменяются, in-flight video — нет
	cancelled := state.CancelUndispatched()
	for _, s := range cancelled {
		if s.Type == domain.StageTypeVideo {
			t.Error("in-flight video must not be cancelled")
		}
	}
	if video.Status != domain.StageStatusRunning {
		t.Errorf("video status = %s, want RUNNING", video.Status)
	}

	// Поздний успех video отбрасывается
	if _, result := state.ApplyCompletion(Completion{
		StageID:   video.ID,
		Attempt:   video.Attempt,
		Status:    domain.StageStatusSucceeded,
		OutputRef: "blob://video",
	}); result != ApplyAccepted {
		// Stage ещё не терминален — итог применяется, но job уже FAILED:
		// advance не откатит статус job, fail-fast необратим
		t.Fatalf("video completion: %v", result)
	}
	if !state.HasPermanentFailure() {
		t.Error("permanent failure lost after late sibling success")
	}
}

func TestJobState_CancellationQuiescence(t *testing.T) {
	state := newTestState(t)
	state.TakeReady()
	succeed(t, state, domain.StageTypeScript, "blob://script")
	state.TakeReady()

	// Image и video завершены, audio ещё в работе
	succeed(t, state, domain.StageTypeImage, "blob://image")
	succeed(t, state, domain.StageTypeVideo, "blob://video")
	audio := stageByType(t, state, domain.StageTypeAudio)
	audio.MarkRunning()

	state.RequestCancel()

	cancelled := state.CancelUndispatched()
	if len(cancelled) != 1 || cancelled[0].Type != domain.StageTypeStitch {
		t.Fatalf("cancelled %d stages, want stitch only", len(cancelled))
	}

	if state.Quiesced() {
		t.Fatal("Quiesced() = true while audio still running")
	}

	// После отмены новые stages не выбираются
	if taken := state.TakeReady(); len(taken) != 0 {
		t.Errorf("selected %d stages after cancel", len(taken))
	}

	// Audio дозавершается — работа quiesced
	if _, result := state.ApplyCompletion(Completion{
		StageID:   audio.ID,
		Attempt:   audio.Attempt,
		Status:    domain.StageStatusSucceeded,
		OutputRef: "blob://audio",
	}); result != ApplyAccepted {
		t.Fatalf("audio completion: %v", result)
	}

	if !state.Quiesced() {
		t.Error("Quiesced() = false after last in-flight stage finished")
	}
}

func TestJobState_RestoreMarksTerminalApplied(t *testing.T) {
	job := &domain.Job{ID: uuid.New(), Status: domain.JobStatusRunning}
	stages, err := pipeline.Default().Instantiate(job.ID)
	if err != nil {
		t.Fatalf("instantiate pipeline: %v", err)
	}

	// Script завершён до рестарта
	stages[0].MarkRunning()
	stages[0].MarkSucceeded("blob://script")

	state := NewJobState(job, stages)

	// Повторная доставка его completion-события — дубль
	_, result := state.ApplyCompletion(Completion{
		StageID:   stages[0].ID,
		Attempt:   stages[0].Attempt,
		Status:    domain.StageStatusSucceeded,
		OutputRef: "blob://script",
	})
	if result != ApplyDuplicate {
		t.Errorf("ApplyCompletion() after restore = %v, want duplicate", result)
	}
}

func TestJobState_Stats(t *testing.T) {
	state := newTestState(t)
	state.TakeReady()
	succeed(t, state, domain.StageTypeScript, "blob://script")
	state.TakeReady()

	stats := state.Stats()
	if stats.Total != 5 || stats.Succeeded != 1 || stats.InFlight != 3 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestJobState_TakeReadyConcurrent(t *testing.T) {
	state := newTestState(t)
	state.TakeReady()
	succeed(t, state, domain.StageTypeScript, "blob://script")

	// Группа 2 открыта: consumer stages.completed и reconcile-poll
	// оценивают job одновременно — каждый stage должен достаться
	// ровно одному вызову
	const callers = 8
	results := make(chan []*domain.Stage, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- state.TakeReady()
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uuid.UUID]int)
	total := 0
	for batch := range results {
		for _, s := range batch {
			seen[s.ID]++
			total++
		}
	}

	if total != 3 {
		t.Fatalf("selected %d stages across callers, want 3", total)
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("stage %s selected %d times", id, n)
		}
	}
}

func TestJobState_ReleaseDispatch(t *testing.T) {
	state := newTestState(t)

	taken := state.TakeReady()
	if len(taken) != 1 {
		t.Fatalf("expected script, got %d stages", len(taken))
	}

	// Персистенция DISPATCHED не удалась — stage возвращается в выборку
	state.ReleaseDispatch(taken[0])
	if taken[0].Status != domain.StageStatusReady {
		t.Fatalf("status after release = %s, want READY", taken[0].Status)
	}

	retaken := state.TakeReady()
	if len(retaken) != 1 || retaken[0].ID != taken[0].ID {
		t.Fatalf("released stage was not selected again")
	}
}
