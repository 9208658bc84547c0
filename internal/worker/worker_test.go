package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
	"github.com/shaiso/Reelforge/internal/provider"
	"github.com/shaiso/Reelforge/internal/repo"
)

// fakeProvider возвращает заранее заданные исходы попыток по порядку.
type fakeProvider struct {
	outcomes []error // nil = успех
	calls    int
	inputs   []*provider.StageInput
}

func (f *fakeProvider) Submit(ctx context.Context, input *provider.StageInput) (*provider.StageOutput, error) {
	f.inputs = append(f.inputs, input)
	idx := f.calls
	f.calls++

	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	if err := f.outcomes[idx]; err != nil {
		return nil, err
	}
	return &provider.StageOutput{Ref: "blob://out"}, nil
}

// fastPolicy — политика с миллисекундными задержками для тестов.
var fastPolicy = domain.RetryPolicy{
	MaxAttempts:  3,
	Backoff:      domain.BackoffExponential,
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
}

func newTestWorker(t *testing.T, prov provider.Provider) (*Worker, *domain.Stage) {
	t.Helper()

	registry := NewRegistry()
	registry.Register(domain.StageTypeScript, prov)

	w := New(Config{
		Registry: registry,
		Logger:   slog.New(slog.NewTextHandler(testWriter{t}, nil)),
	})

	stage := &domain.Stage{
		ID:     uuid.New(),
		JobID:  uuid.New(),
		Type:   domain.StageTypeScript,
		Status: domain.StageStatusDispatched,
	}
	stage.MarkRunning()

	return w, stage
}

// testWriter направляет вывод логгера в t.Log.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestExecuteWithRetry_TransientThenSuccess(t *testing.T) {
	prov := &fakeProvider{outcomes: []error{
		provider.Transient("rate limited"),
		provider.Transient("connection reset"),
		nil,
	}}

	w, stage := newTestWorker(t, prov)
	spec := &domain.JobSpec{Platform: domain.PlatformTikTok, Topic: "space", DurationSec: 30}

	output, err := w.executeWithRetry(context.Background(), stage, spec, fastPolicy, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Ref != "blob://out" {
		t.Errorf("output ref = %q", output.Ref)
	}
	if prov.calls != 3 {
		t.Errorf("provider calls = %d, want 3", prov.calls)
	}
	if stage.Attempt != 3 {
		t.Errorf("stage attempt = %d, want 3", stage.Attempt)
	}

	// Каждая попытка несёт свой номер в ключе идемпотентности
	for i, input := range prov.inputs {
		if input.Attempt != i+1 {
			t.Errorf("input[%d].Attempt = %d, want %d", i, input.Attempt, i+1)
		}
	}
}

func TestExecuteWithRetry_PermanentShortCircuits(t *testing.T) {
	prov := &fakeProvider{outcomes: []error{
		provider.Permanent("invalid voice id"),
	}}

	w, stage := newTestWorker(t, prov)
	spec := &domain.JobSpec{Platform: domain.PlatformTikTok, Topic: "space", DurationSec: 30}

	_, err := w.executeWithRetry(context.Background(), stage, spec, fastPolicy, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if provider.KindOf(err) != domain.ErrorKindPermanent {
		t.Errorf("error kind = %s, want permanent", provider.KindOf(err))
	}
	if messageOf(err) != "invalid voice id" {
		t.Errorf("message = %q, want provider text verbatim", messageOf(err))
	}
	if prov.calls != 1 {
		t.Errorf("provider calls = %d, want 1 (no retry on permanent)", prov.calls)
	}
}

func TestExecuteWithRetry_AttemptsExhausted(t *testing.T) {
	prov := &fakeProvider{outcomes: []error{
		provider.Transient("upstream 503"),
	}}

	w, stage := newTestWorker(t, prov)
	spec := &domain.JobSpec{Platform: domain.PlatformYouTubeShorts, Topic: "space", DurationSec: 30}

	_, err := w.executeWithRetry(context.Background(), stage, spec, fastPolicy, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if prov.calls != fastPolicy.MaxAttempts {
		t.Errorf("provider calls = %d, want %d", prov.calls, fastPolicy.MaxAttempts)
	}
	if stage.Attempt != fastPolicy.MaxAttempts {
		t.Errorf("stage attempt = %d, want %d", stage.Attempt, fastPolicy.MaxAttempts)
	}
	// Исчерпание transient-попыток — терминальное падение,
	// но kind последней ошибки сохраняется
	if provider.KindOf(err) != domain.ErrorKindTransient {
		t.Errorf("error kind = %s, want transient", provider.KindOf(err))
	}
}

func TestExecuteWithRetry_DeadlineIsTransient(t *testing.T) {
	slow := &slowProvider{delay: 50 * time.Millisecond}

	registry := NewRegistry()
	registry.Register(domain.StageTypeScript, slow)
	w := New(Config{Registry: registry, Logger: slog.Default()})

	stage := &domain.Stage{
		ID:     uuid.New(),
		JobID:  uuid.New(),
		Type:   domain.StageTypeScript,
		Status: domain.StageStatusDispatched,
	}
	stage.MarkRunning()

	policy := domain.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	spec := &domain.JobSpec{Platform: domain.PlatformReels, Topic: "space", DurationSec: 30}

	// Дедлайн попытки короче времени ответа провайдера
	_, err := w.executeWithRetry(context.Background(), stage, spec, policy, 5*time.Millisecond)
	if err == nil {
		t.Fatal("expected error")
	}
	if slow.calls != 2 {
		t.Errorf("provider calls = %d, want 2 (deadline is retryable)", slow.calls)
	}
}

// slowProvider отвечает дольше любого тестового дедлайна.
type slowProvider struct {
	delay time.Duration
	calls int
}

func (p *slowProvider) Submit(ctx context.Context, input *provider.StageInput) (*provider.StageOutput, error) {
	p.calls++
	select {
	case <-time.After(p.delay):
		return &provider.StageOutput{Ref: "blob://late"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestExecuteWithRetry_NoProvider(t *testing.T) {
	w, stage := newTestWorker(t, &fakeProvider{outcomes: []error{nil}})
	stage.Type = domain.StageTypeVideo // не зарегистрирован

	spec := &domain.JobSpec{Platform: domain.PlatformTikTok, Topic: "space", DurationSec: 30}

	_, err := w.executeWithRetry(context.Background(), stage, spec, fastPolicy, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if provider.KindOf(err) != domain.ErrorKindPermanent {
		t.Errorf("missing provider must be permanent, got %s", provider.KindOf(err))
	}
}

func TestExecuteWithRetry_ContextCancelled(t *testing.T) {
	prov := &fakeProvider{outcomes: []error{
		provider.Transient("rate limited"),
	}}

	w, stage := newTestWorker(t, prov)
	spec := &domain.JobSpec{Platform: domain.PlatformTikTok, Topic: "space", DurationSec: 30}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := domain.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour}
	_, err := w.executeWithRetry(ctx, stage, spec, policy, time.Second)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if prov.calls != 1 {
		t.Errorf("provider calls = %d, want 1", prov.calls)
	}
}

// claimStore — хранилище stages, в котором claim выигрывает ровно
// один вызов: второй видит stage уже RUNNING.
type claimStore struct {
	mu    sync.Mutex
	stage *domain.Stage
}

func (s *claimStore) GetByID(context.Context, uuid.UUID) (*domain.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.stage
	return &cp, nil
}

func (s *claimStore) ClaimForRun(context.Context, uuid.UUID) (*domain.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage.Status != domain.StageStatusReady && s.stage.Status != domain.StageStatusDispatched {
		return nil, repo.ErrNotFound
	}
	s.stage.MarkRunning()
	cp := *s.stage
	return &cp, nil
}

func (s *claimStore) Update(_ context.Context, stage *domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *stage
	s.stage = &cp
	return nil
}

func (s *claimStore) ListDispatched(context.Context, int) ([]domain.Stage, error) {
	return nil, nil
}

func (s *claimStore) current() domain.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.stage
}

// jobStoreStub отдаёт один и тот же job.
type jobStoreStub struct{ job *domain.Job }

func (s *jobStoreStub) GetByID(context.Context, uuid.UUID) (*domain.Job, error) {
	cp := *s.job
	return &cp, nil
}

func TestProcessStage_ConcurrentClaim(t *testing.T) {
	prov := &fakeProvider{outcomes: []error{nil}}

	registry := NewRegistry()
	registry.Register(domain.StageTypeScript, prov)

	stage := &domain.Stage{
		ID:     uuid.New(),
		JobID:  uuid.New(),
		Type:   domain.StageTypeScript,
		Status: domain.StageStatusDispatched,
	}
	store := &claimStore{stage: stage}
	jobs := &jobStoreStub{job: &domain.Job{ID: stage.JobID, Status: domain.JobStatusRunning}}

	w := New(Config{
		StageRepo: store,
		JobRepo:   jobs,
		Registry:  registry,
		Logger:    slog.New(slog.NewTextHandler(testWriter{t}, nil)),
	})

	// Дубль доставки stage.ready: два worker'а берут один stage,
	// выполнить его должен ровно один
	const workers = 2
	errs := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- w.processStage(context.Background(), stage.ID)
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrStageNotReady):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if won != 1 || lost != 1 {
		t.Fatalf("winners = %d, losers = %d, want exactly one of each", won, lost)
	}
	if prov.calls != 1 {
		t.Errorf("provider invoked %d times, want 1", prov.calls)
	}
	if got := store.current().Status; got != domain.StageStatusSucceeded {
		t.Errorf("stage status = %s, want SUCCEEDED", got)
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	prov := &fakeProvider{outcomes: []error{nil}}
	registry.Register(domain.StageTypeAudio, prov)

	if _, err := registry.Get(domain.StageTypeAudio); err != nil {
		t.Errorf("Get(audio) error: %v", err)
	}
	if _, err := registry.Get(domain.StageTypeVideo); !errors.Is(err, ErrNoProvider) {
		t.Errorf("Get(video) = %v, want ErrNoProvider", err)
	}
	if len(registry.Types()) != 1 {
		t.Errorf("Types() = %v", registry.Types())
	}
}
