package pipeline

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
)

func TestDefault_Shape(t *testing.T) {
	def := Default()

	if err := def.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(def.Groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(def.Groups))
	}
	if def.Size() != 5 {
		t.Errorf("expected 5 stages, got %d", def.Size())
	}

	if len(def.Groups[0].Types) != 1 || def.Groups[0].Types[0] != domain.StageTypeScript {
		t.Errorf("group 1 should be {script}, got %v", def.Groups[0].Types)
	}
	if len(def.Groups[1].Types) != 3 {
		t.Errorf("group 2 should have 3 parallel stages, got %v", def.Groups[1].Types)
	}
	if len(def.Groups[2].Types) != 1 || def.Groups[2].Types[0] != domain.StageTypeStitch {
		t.Errorf("group 3 should be {stitch}, got %v", def.Groups[2].Types)
	}
}

func TestValidate_Errors(t *testing.T) {
	empty := &Definition{}
	if err := empty.Validate(); err == nil {
		t.Error("expected error for empty definition")
	}

	emptyGroup := &Definition{Groups: []Group{{}}}
	if err := emptyGroup.Validate(); err == nil {
		t.Error("expected error for empty group")
	}

	duplicate := &Definition{Groups: []Group{
		{Types: []domain.StageType{domain.StageTypeScript}},
		{Types: []domain.StageType{domain.StageTypeScript}},
	}}
	if err := duplicate.Validate(); err == nil {
		t.Error("expected error for duplicate stage type")
	}
}

func TestInstantiate_Dependencies(t *testing.T) {
	jobID := uuid.New()

	stages, err := Default().Instantiate(jobID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stages) != 5 {
		t.Fatalf("expected 5 stages, got %d", len(stages))
	}

	byType := make(map[domain.StageType]*domain.Stage)
	for i := range stages {
		byType[stages[i].Type] = &stages[i]
	}

	script := byType[domain.StageTypeScript]
	if script == nil {
		t.Fatal("script stage missing")
	}
	if script.Status != domain.StageStatusReady {
		t.Errorf("first group should be READY, got %s", script.Status)
	}
	if len(script.DependsOn) != 0 {
		t.Errorf("script should have no dependencies, got %v", script.DependsOn)
	}

	// Каждый stage группы 2 зависит ровно от script
	for _, typ := range []domain.StageType{domain.StageTypeImage, domain.StageTypeAudio, domain.StageTypeVideo} {
		stage := byType[typ]
		if stage == nil {
			t.Fatalf("%s stage missing", typ)
		}
		if stage.Status != domain.StageStatusPending {
			t.Errorf("%s should be PENDING, got %s", typ, stage.Status)
		}
		if stage.Group != 2 {
			t.Errorf("%s should be in group 2, got %d", typ, stage.Group)
		}
		if len(stage.DependsOn) != 1 || stage.DependsOn[0] != script.ID {
			t.Errorf("%s should depend on script, got %v", typ, stage.DependsOn)
		}
	}

	// Stitch зависит от полного набора группы 2
	stitch := byType[domain.StageTypeStitch]
	if stitch == nil {
		t.Fatal("stitch stage missing")
	}
	if len(stitch.DependsOn) != 3 {
		t.Fatalf("stitch should depend on all of group 2, got %v", stitch.DependsOn)
	}
	deps := make(map[uuid.UUID]bool)
	for _, id := range stitch.DependsOn {
		deps[id] = true
	}
	for _, typ := range []domain.StageType{domain.StageTypeImage, domain.StageTypeAudio, domain.StageTypeVideo} {
		if !deps[byType[typ].ID] {
			t.Errorf("stitch should depend on %s", typ)
		}
	}

	for i := range stages {
		if stages[i].JobID != jobID {
			t.Errorf("stage %s has wrong job id", stages[i].Type)
		}
	}
}

func TestPolicyFor_KnownTypes(t *testing.T) {
	for _, typ := range []domain.StageType{
		domain.StageTypeScript, domain.StageTypeImage, domain.StageTypeAudio,
		domain.StageTypeVideo, domain.StageTypeStitch,
	} {
		policy := PolicyFor(typ)
		if policy.MaxAttempts < 1 {
			t.Errorf("%s: max attempts should be >= 1, got %d", typ, policy.MaxAttempts)
		}
		if DeadlineFor(typ) <= 0 {
			t.Errorf("%s: deadline should be positive", typ)
		}
	}

	fallback := PolicyFor(domain.StageType("unknown"))
	if fallback.MaxAttempts != 1 {
		t.Errorf("unknown type should get single-attempt policy, got %d", fallback.MaxAttempts)
	}
}

func TestSweepAfter(t *testing.T) {
	// 3 попытки по 300s плюс паузы 5s и 10s между ними
	want := 3*300*time.Second + 15*time.Second
	if got := SweepAfter(domain.StageTypeVideo); got != want {
		t.Errorf("SweepAfter(video) = %s, want %s", got, want)
	}

	// Бюджет любого типа не меньше одного дедлайна
	for _, typ := range []domain.StageType{
		domain.StageTypeScript, domain.StageTypeImage, domain.StageTypeAudio,
		domain.StageTypeVideo, domain.StageTypeStitch,
	} {
		if SweepAfter(typ) < DeadlineFor(typ) {
			t.Errorf("%s: sweep budget below a single attempt deadline", typ)
		}
	}

	min := MinSweepAfter()
	if min <= 0 {
		t.Fatalf("MinSweepAfter() = %s", min)
	}
	if min > SweepAfter(domain.StageTypeScript) {
		t.Errorf("MinSweepAfter() = %s exceeds script budget %s", min, SweepAfter(domain.StageTypeScript))
	}
}
