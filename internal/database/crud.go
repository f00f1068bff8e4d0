package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrVersionConflict is returned by the version-guarded update helpers when
// the caller's version no longer matches the stored record (or the record does
// not exist). Callers are expected to re-read and retry; no automatic retry
// happens at this layer.
var ErrVersionConflict = errors.New("record was modified concurrently, re-read and retry")

func CreateJob(ctx context.Context, db *gorm.DB, job *Job) error {
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		slog.Error("error creating job record", "job_id", job.Id, "error", err)
		return fmt.Errorf("error creating job %s: %w", job.Id, err)
	}
	return nil
}

func GetJob(ctx context.Context, db *gorm.DB, jobId uuid.UUID) (Job, error) {
	var job Job
	if err := db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		return Job{}, err
	}
	return job, nil
}

// MarkJobStarted records that a worker has picked up the job. Submission and
// execution run in different processes, so the start signal can outrun
// visibility of the PENDING record; a missing record is not an error, the
// record is created directly in STARTED. Duplicate start signals and signals
// arriving after a terminal transition are no-ops.
func MarkJobStarted(ctx context.Context, db *gorm.DB, jobId, userId, modelId uuid.UUID, jobType string) error {
	job := Job{
		Id:           jobId,
		UserId:       userId,
		Type:         jobType,
		CreationTime: time.Now().UTC(),
		Status:       JobStarted,
		ModelId:      modelId,
	}

	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&job)
	if res.Error != nil {
		slog.Error("error recording job start", "job_id", jobId, "error", res.Error)
		return fmt.Errorf("error recording start of job %s: %w", jobId, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// The PENDING record was already visible; advance it. The guard keeps the
	// transition monotonic if a redelivered start signal lands late.
	if err := db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND status = ?", jobId, JobPending).
		Update("status", JobStarted).Error; err != nil {
		slog.Error("error updating job status to STARTED", "job_id", jobId, "error", err)
		return fmt.Errorf("error starting job %s: %w", jobId, err)
	}
	return nil
}

// CompleteJob claims the SUCCESS transition for the job and, if the claim
// wins, creates the registry entry and attaches it as the job's reference.
// The queue delivers at least once, so the claim is conditioned on the job not
// being terminal yet; a redelivered success signal returns claimed=false and
// creates nothing.
func CompleteJob(ctx context.Context, db *gorm.DB, jobId uuid.UUID, entry *RegistryEntry) (bool, error) {
	claimed := false

	err := db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		res := txn.Model(&Job{}).
			Where("id = ? AND status IN ?", jobId, []string{JobPending, JobStarted}).
			Update("status", JobSuccess)
		if res.Error != nil {
			return fmt.Errorf("error updating job %s status to SUCCESS: %w", jobId, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil // already terminal, duplicate delivery
		}
		claimed = true

		if err := txn.Create(entry).Error; err != nil {
			return fmt.Errorf("error creating registry entry for job %s: %w", jobId, err)
		}

		if err := txn.Model(&Job{Id: jobId}).
			Update("reference_id", uuid.NullUUID{UUID: entry.Id, Valid: true}).Error; err != nil {
			return fmt.Errorf("error attaching reference to job %s: %w", jobId, err)
		}
		return nil
	})
	if err != nil {
		slog.Error("error completing job", "job_id", jobId, "error", err)
		return false, err
	}
	return claimed, nil
}

// FailJob marks the job FAILURE and records the triggering error. Like
// CompleteJob it is a no-op on jobs that already reached a terminal state.
func FailJob(ctx context.Context, db *gorm.DB, jobId uuid.UUID, jobErr string) (bool, error) {
	res := db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", jobId, []string{JobPending, JobStarted}).
		Updates(map[string]any{"status": JobFailure, "error": jobErr})
	if res.Error != nil {
		slog.Error("error updating job status to FAILURE", "job_id", jobId, "error", res.Error)
		return false, fmt.Errorf("error failing job %s: %w", jobId, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ReapStartedJobs moves STARTED jobs older than the deadline to TIMEOUT. A
// deployment that never signals completion would otherwise pin its job in
// STARTED forever. Returns the number of jobs reaped.
func ReapStartedJobs(ctx context.Context, db *gorm.DB, deadline time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-deadline)

	res := db.WithContext(ctx).Model(&Job{}).
		Where("status = ? AND creation_time < ?", JobStarted, cutoff).
		Updates(map[string]any{
			"status": JobTimeout,
			"error":  fmt.Sprintf("no completion signal within %s", deadline),
		})
	if res.Error != nil {
		slog.Error("error reaping stale jobs", "error", res.Error)
		return 0, fmt.Errorf("error reaping stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func GetModelArtifact(ctx context.Context, db *gorm.DB, modelId uuid.UUID) (ModelArtifact, error) {
	var artifact ModelArtifact
	if err := db.WithContext(ctx).First(&artifact, "id = ?", modelId).Error; err != nil {
		return ModelArtifact{}, err
	}
	return artifact, nil
}

// UpdateArtifactType changes the artifact's type tag under optimistic
// concurrency: the write only lands if the caller's version still matches, and
// the version is incremented atomically with the field. A stale version (or a
// missing artifact) yields ErrVersionConflict.
func UpdateArtifactType(ctx context.Context, db *gorm.DB, modelId uuid.UUID, newType string, version int) (ModelArtifact, error) {
	res := db.WithContext(ctx).Model(&ModelArtifact{}).
		Where("id = ? AND version = ?", modelId, version).
		Updates(map[string]any{"type": newType, "version": version + 1})
	if res.Error != nil {
		slog.Error("error updating artifact type", "model_id", modelId, "error", res.Error)
		return ModelArtifact{}, fmt.Errorf("error updating artifact %s: %w", modelId, res.Error)
	}
	if res.RowsAffected == 0 {
		return ModelArtifact{}, ErrVersionConflict
	}

	return GetModelArtifact(ctx, db, modelId)
}

func GetRegistryEntry(ctx context.Context, db *gorm.DB, registryId uuid.UUID) (RegistryEntry, error) {
	var entry RegistryEntry
	if err := db.WithContext(ctx).First(&entry, "id = ?", registryId).Error; err != nil {
		return RegistryEntry{}, err
	}
	return entry, nil
}

// UpdateRegistryEntry applies an administrative update to a registry entry
// under the same version-guarded discipline as UpdateArtifactType. Registry
// entries are multi-writer (admin tooling and teardown can race), so
// unconditional overwrites are not allowed.
func UpdateRegistryEntry(ctx context.Context, db *gorm.DB, registryId uuid.UUID, fields map[string]any, version int) error {
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["version"] = version + 1

	res := db.WithContext(ctx).Model(&RegistryEntry{}).
		Where("id = ? AND version = ?", registryId, version).
		Updates(updates)
	if res.Error != nil {
		slog.Error("error updating registry entry", "registry_id", registryId, "error", res.Error)
		return fmt.Errorf("error updating registry entry %s: %w", registryId, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func DeleteRegistryEntry(ctx context.Context, db *gorm.DB, registryId uuid.UUID) error {
	res := db.WithContext(ctx).Delete(&RegistryEntry{}, "id = ?", registryId)
	if res.Error != nil {
		slog.Error("error deleting registry entry", "registry_id", registryId, "error", res.Error)
		return fmt.Errorf("error deleting registry entry %s: %w", registryId, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

type InferenceRunCount struct {
	RegistryEntryId uuid.UUID
	ModelVersion    string
	ModelName       string
	ModelType       string
	RunCount        int64
}

func CountInferenceRuns(ctx context.Context, db *gorm.DB) ([]InferenceRunCount, error) {
	var counts []InferenceRunCount
	err := db.WithContext(ctx).
		Model(&Inference{}).
		Select("inferences.registry_entry_id, registry_entries.model_version, model_artifacts.name AS model_name, model_artifacts.type AS model_type, COUNT(*) AS run_count").
		Joins("JOIN registry_entries ON registry_entries.id = inferences.registry_entry_id").
		Joins("JOIN model_artifacts ON model_artifacts.id = registry_entries.model_id").
		Group("inferences.registry_entry_id, registry_entries.model_version, model_artifacts.name, model_artifacts.type").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("error counting inference runs: %w", err)
	}
	return counts, nil
}
