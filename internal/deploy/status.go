package deploy

import (
	"context"

	"modelhub-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StatusService is the read-only projection callers poll for job progress. It
// has no side effects and is safe to hit at arbitrary frequency.
type StatusService struct {
	db *gorm.DB
}

func NewStatusService(db *gorm.DB) *StatusService {
	return &StatusService{db: db}
}

type JobStatus struct {
	JobId       uuid.UUID
	UserId      uuid.UUID
	Status      string
	ReferenceId *uuid.UUID
	Error       string
}

func (s *StatusService) GetJobStatus(ctx context.Context, jobId uuid.UUID) (JobStatus, error) {
	job, err := database.GetJob(ctx, s.db, jobId)
	if err != nil {
		return JobStatus{}, err
	}

	status := JobStatus{JobId: job.Id, UserId: job.UserId, Status: job.Status, Error: job.Error}
	if job.ReferenceId.Valid {
		ref := job.ReferenceId.UUID
		status.ReferenceId = &ref
	}
	return status, nil
}
