package status

import (
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
)

func stagesWith(statuses ...domain.StageStatus) []domain.Stage {
	stages := make([]domain.Stage, len(statuses))
	for i, st := range statuses {
		stages[i] = domain.Stage{
			ID:     uuid.New(),
			Status: st,
		}
	}
	return stages
}

func TestDeriveJobStatus(t *testing.T) {
	tests := []struct {
		name            string
		statuses        []domain.StageStatus
		cancelRequested bool
		want            domain.JobStatus
	}{
		{
			name:     "all pending and ready",
			statuses: []domain.StageStatus{domain.StageStatusReady, domain.StageStatusPending, domain.StageStatusPending},
			want:     domain.JobStatusQueued,
		},
		{
			name:     "first stage running",
			statuses: []domain.StageStatus{domain.StageStatusRunning, domain.StageStatusPending},
			want:     domain.JobStatusRunning,
		},
		{
			name:     "all succeeded",
			statuses: []domain.StageStatus{domain.StageStatusSucceeded, domain.StageStatusSucceeded},
			want:     domain.JobStatusCompleted,
		},
		{
			name:     "permanent failure wins over running siblings",
			statuses: []domain.StageStatus{domain.StageStatusSucceeded, domain.StageStatusFailedPermanent, domain.StageStatusRunning},
			want:     domain.JobStatusFailed,
		},
		{
			name:            "cancel requested with stage still running",
			statuses:        []domain.StageStatus{domain.StageStatusSucceeded, domain.StageStatusRunning, domain.StageStatusCancelled},
			cancelRequested: true,
			want:            domain.JobStatusRunning,
		},
		{
			name:            "cancel requested and all work quiesced",
			statuses:        []domain.StageStatus{domain.StageStatusSucceeded, domain.StageStatusCancelled, domain.StageStatusCancelled},
			cancelRequested: true,
			want:            domain.JobStatusCancelled,
		},
		{
			name:            "cancel requested before any dispatch",
			statuses:        []domain.StageStatus{domain.StageStatusReady, domain.StageStatusPending},
			cancelRequested: true,
			want:            domain.JobStatusCancelled,
		},
		{
			name:            "cancel requested with transient retry in flight",
			statuses:        []domain.StageStatus{domain.StageStatusFailedTransient, domain.StageStatusPending},
			cancelRequested: true,
			want:            domain.JobStatusRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveJobStatus(stagesWith(tt.statuses...), tt.cancelRequested)
			if got != tt.want {
				t.Errorf("DeriveJobStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProgress(t *testing.T) {
	stages := stagesWith(
		domain.StageStatusSucceeded,
		domain.StageStatusSucceeded,
		domain.StageStatusRunning,
		domain.StageStatusPending,
	)

	if got := Progress(stages); got != 0.5 {
		t.Errorf("Progress() = %f, want 0.5", got)
	}

	if got := Progress(nil); got != 0 {
		t.Errorf("Progress(nil) = %f, want 0", got)
	}
}

func TestProgressCountsFailedAndCancelled(t *testing.T) {
	stages := stagesWith(
		domain.StageStatusSucceeded,
		domain.StageStatusFailedPermanent,
		domain.StageStatusCancelled,
		domain.StageStatusCancelled,
	)

	if got := Progress(stages); got != 1.0 {
		t.Errorf("Progress() = %f, want 1.0", got)
	}
}

func TestAggregate(t *testing.T) {
	job := &domain.Job{
		ID:            uuid.New(),
		Status:        domain.JobStatusRunning,
		FinalArtifact: "",
	}
	stages := stagesWith(domain.StageStatusSucceeded, domain.StageStatusRunning)
	stages[0].Type = domain.StageTypeScript
	stages[0].OutputRef = "blob://script"
	stages[1].Type = domain.StageTypeImage
	stages[1].Attempt = 2

	view := Aggregate(job, stages)

	if view.JobID != job.ID {
		t.Errorf("JobID = %s, want %s", view.JobID, job.ID)
	}
	// Клиентский контракт: статусы в нижнем регистре
	if view.Status != "running" {
		t.Errorf("Status = %q, want running", view.Status)
	}
	if view.Progress != 0.5 {
		t.Errorf("Progress = %f, want 0.5", view.Progress)
	}
	if len(view.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(view.Stages))
	}
	if view.Stages[0].Status != "succeeded" {
		t.Errorf("Stages[0].Status = %q, want succeeded", view.Stages[0].Status)
	}
	if view.Stages[1].Attempt != 2 {
		t.Errorf("Stages[1].Attempt = %d, want 2", view.Stages[1].Attempt)
	}
}
