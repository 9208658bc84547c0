package api

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
)

func TestJobSummaryFromDomain_LowercaseStatus(t *testing.T) {
	job := domain.Job{
		ID: uuid.New(),
		Spec: domain.JobSpec{
			Platform: domain.PlatformTikTok,
			Topic:    "space",
		},
		Status:    domain.JobStatusQueued,
		CreatedAt: time.Now(),
	}

	summary := JobSummaryFromDomain(job)

	if summary.Status != "queued" {
		t.Errorf("Status = %q, want queued", summary.Status)
	}
	if summary.ID != job.ID || summary.Topic != "space" {
		t.Errorf("summary fields lost: %+v", summary)
	}
}

func TestJobDetailFromDomain_LowercaseStatuses(t *testing.T) {
	job := &domain.Job{
		ID:     uuid.New(),
		Status: domain.JobStatusFailed,
		Error:  "stage image failed: content policy violation",
	}
	stages := []domain.Stage{
		{ID: uuid.New(), Type: domain.StageTypeScript, Status: domain.StageStatusSucceeded},
		{ID: uuid.New(), Type: domain.StageTypeImage, Status: domain.StageStatusFailedPermanent},
	}

	detail := JobDetailFromDomain(job, stages)

	if detail.Status != "failed" {
		t.Errorf("Status = %q, want failed", detail.Status)
	}
	for _, s := range detail.Stages {
		if s.Status != "succeeded" && s.Status != "failed_permanent" {
			t.Errorf("stage %s status = %q, want lowercase", s.Type, s.Status)
		}
	}
}
