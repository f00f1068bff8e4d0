package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"modelhub-backend/internal/database"
	"modelhub-backend/internal/messaging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrIngestion marks a lifecycle signal that arrived without a resolvable
// owner. There is no job record to attach the failure to; the task is logged
// and discarded.
var ErrIngestion = errors.New("lifecycle signal arrived without owner context")

const DefaultModelVersion = "1.0"

// TaskProcessor runs in the worker process. For each deploy task it walks the
// job through its lifecycle: start signal, executor handoff, then exactly one
// terminal transition reconciled with the registry.
type TaskProcessor struct {
	db       *gorm.DB
	executor Executor
	reciever messaging.Reciever

	// Jobs left in STARTED longer than jobDeadline are moved to TIMEOUT by the
	// reaper.
	jobDeadline time.Duration

	stop chan struct{}
}

func NewTaskProcessor(db *gorm.DB, executor Executor, reciever messaging.Reciever, jobDeadline time.Duration) *TaskProcessor {
	return &TaskProcessor{
		db:          db,
		executor:    executor,
		reciever:    reciever,
		jobDeadline: jobDeadline,
		stop:        make(chan struct{}),
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting deployment task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping deployment task processor")

	close(proc.stop)
	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	switch task.Type() {
	case messaging.DeployQueue:
		var payload messaging.DeployTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling deploy task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}

		err := proc.processDeployTask(ctx, payload)
		if errors.Is(err, ErrIngestion) {
			slog.Error("discarding deploy task with unresolvable owner", "job_id", payload.JobId)
			if err := task.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		if err != nil {
			slog.Error("error processing deploy task", "job_id", payload.JobId, "error", err)
			if err := task.Nack(); err != nil {
				slog.Error("error nacking message from queue", "error", err)
			}
			return
		}

		if err := task.Ack(); err != nil {
			slog.Error("error acking message from queue", "error", err)
		}

	default:
		slog.Error("received task from unknown queue, discarding", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
	}
}

// processDeployTask is the full lifecycle for one deployment attempt. A
// returned error means the attempt could not even be recorded; executor
// failures are absorbed into the job's FAILURE state and do not propagate.
func (proc *TaskProcessor) processDeployTask(ctx context.Context, payload messaging.DeployTaskPayload) error {
	if payload.UserId == uuid.Nil || payload.JobId == uuid.Nil {
		return ErrIngestion
	}

	// Start signal: the record's existence is itself evidence that execution
	// began, even if the PENDING write from the submitting process is not
	// visible here yet.
	if err := database.MarkJobStarted(ctx, proc.db, payload.JobId, payload.UserId, payload.ModelId, database.JobTypeModelRegistry); err != nil {
		return err
	}

	artifact, err := database.GetModelArtifact(ctx, proc.db, payload.ModelId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return proc.failJob(ctx, payload.JobId, (&DeploymentError{Stage: "artifact lookup", Err: err}).Error())
		}
		return err
	}

	modelRef, endpointId, err := proc.executor.Deploy(ctx, artifact)
	if err != nil {
		slog.Warn("deployment failed", "job_id", payload.JobId, "model_id", payload.ModelId, "error", err)
		return proc.failJob(ctx, payload.JobId, err.Error())
	}

	entry := database.RegistryEntry{
		Id:           uuid.New(),
		ModelId:      artifact.Id,
		ModelVersion: DefaultModelVersion,
		Status:       database.JobSuccess,
		Endpoint:     endpointId,
		CreationTime: time.Now().UTC(),
	}

	claimed, err := database.CompleteJob(ctx, proc.db, payload.JobId, &entry)
	if err != nil {
		return err
	}
	if !claimed {
		// At-least-once redelivery after the terminal transition already
		// landed; nothing was created.
		slog.Warn("job already terminal, ignoring duplicate success signal", "job_id", payload.JobId)
		return nil
	}

	slog.Info("deployment complete", "job_id", payload.JobId, "model_ref", modelRef,
		"endpoint_id", endpointId, "registry_id", entry.Id)
	return nil
}

func (proc *TaskProcessor) failJob(ctx context.Context, jobId uuid.UUID, reason string) error {
	claimed, err := database.FailJob(ctx, proc.db, jobId, reason)
	if err != nil {
		return err
	}
	if !claimed {
		slog.Warn("job already terminal, ignoring duplicate failure signal", "job_id", jobId)
	}
	return nil
}

// StartReaper periodically sweeps STARTED jobs past the deadline into TIMEOUT.
// Runs until Stop is called.
func (proc *TaskProcessor) StartReaper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-proc.stop:
				return
			case <-ticker.C:
				reaped, err := database.ReapStartedJobs(context.Background(), proc.db, proc.jobDeadline)
				if err != nil {
					slog.Error("error reaping stale jobs", "error", err)
				} else if reaped > 0 {
					slog.Warn("timed out stale jobs", "count", reaped, "deadline", proc.jobDeadline)
				}
			}
		}
	}()
}
