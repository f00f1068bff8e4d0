package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"modelhub-backend/internal/database"
	"modelhub-backend/internal/messaging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DispatchError means the deployment task could not be enqueued. No job record
// exists when this is returned; the caller may simply retry the submission.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to dispatch deployment task: %v", e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Orchestrator accepts deployment requests and hands them off to the worker
// pool through the task queue. It never blocks on the deployment itself: the
// queue is the only coordination mechanism between submission and execution.
type Orchestrator struct {
	db        *gorm.DB
	publisher messaging.Publisher
}

func NewOrchestrator(db *gorm.DB, publisher messaging.Publisher) *Orchestrator {
	return &Orchestrator{db: db, publisher: publisher}
}

// Submit dispatches an asynchronous deployment of the given artifact and
// returns the job id to poll. The owner id must come from the authenticated
// caller context, never from the request body.
func (o *Orchestrator) Submit(ctx context.Context, userId, modelId uuid.UUID) (uuid.UUID, error) {
	if _, err := database.GetModelArtifact(ctx, o.db, modelId); err != nil {
		return uuid.Nil, err
	}

	jobId, err := o.publisher.PublishDeployTask(ctx, userId, modelId)
	if err != nil {
		return uuid.Nil, &DispatchError{Err: err}
	}

	job := database.Job{
		Id:           jobId,
		UserId:       userId,
		Type:         database.JobTypeModelRegistry,
		CreationTime: time.Now().UTC(),
		Status:       database.JobPending,
		ModelId:      modelId,
	}
	if err := database.CreateJob(ctx, o.db, &job); err != nil {
		// The task is already durably enqueued. The worker's start signal
		// creates the record if it is missing, so the job is still observable;
		// don't fail the submission.
		slog.Warn("job record not created at submit, start signal will create it", "job_id", jobId, "error", err)
	}

	slog.Info("submitted deployment job", "job_id", jobId, "model_id", modelId, "user_id", userId)
	return jobId, nil
}
