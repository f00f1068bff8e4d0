package api

import (
	"errors"
	"fmt"
	"net/http"

	"modelhub-backend/internal/database"
	"modelhub-backend/internal/deploy"
	"modelhub-backend/pkg/api"

	"gorm.io/gorm"
)

func registryEntryDto(entry database.RegistryEntry) api.RegistryEntry {
	return api.RegistryEntry{
		Id:           entry.Id,
		ModelId:      entry.ModelId,
		ModelVersion: entry.ModelVersion,
		Status:       entry.Status,
		Endpoint:     entry.Endpoint,
		CreationTime: entry.CreationTime,
		Version:      entry.Version,
	}
}

// DeployModel submits an asynchronous deployment for the model and returns
// the job id to poll. The endpoint itself is provisioned by the worker; the
// registry entry only appears once the job succeeds.
func (s *BackendService) DeployModel(r *http.Request) (any, error) {
	artifact, err := s.getOwnedArtifact(r)
	if err != nil {
		return nil, err
	}

	userId, err := callerId(r)
	if err != nil {
		return nil, err
	}

	jobId, err := s.orchestrator.Submit(r.Context(), userId, artifact.Id)
	if err != nil {
		var dispatchErr *deploy.DispatchError
		if errors.As(err, &dispatchErr) {
			return nil, CodedError(http.StatusBadGateway, fmt.Errorf("unable to dispatch deployment: %w", err))
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model %s not found", artifact.Id)
		}
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error submitting deployment: %w", err))
	}

	return api.DeployResponse{Message: "Model registration started", JobId: jobId}, nil
}

func (s *BackendService) getOwnedRegistryEntry(r *http.Request) (database.RegistryEntry, error) {
	userId, err := callerId(r)
	if err != nil {
		return database.RegistryEntry{}, err
	}

	registryId, err := URLParamUUID(r, "registry_id")
	if err != nil {
		return database.RegistryEntry{}, err
	}

	entry, err := database.GetRegistryEntry(r.Context(), s.db, registryId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.RegistryEntry{}, CodedErrorf(http.StatusNotFound, "registry entry %s not found", registryId)
		}
		return database.RegistryEntry{}, CodedError(http.StatusInternalServerError, fmt.Errorf("error loading registry entry %s: %w", registryId, err))
	}

	artifact, err := database.GetModelArtifact(r.Context(), s.db, entry.ModelId)
	if err != nil || artifact.UserId != userId {
		return database.RegistryEntry{}, CodedErrorf(http.StatusNotFound, "registry entry %s not found", registryId)
	}
	return entry, nil
}

func (s *BackendService) GetRegistryEntry(r *http.Request) (any, error) {
	entry, err := s.getOwnedRegistryEntry(r)
	if err != nil {
		return nil, err
	}
	return registryEntryDto(entry), nil
}

func (s *BackendService) ListRegistryEntries(r *http.Request) (any, error) {
	userId, err := callerId(r)
	if err != nil {
		return nil, err
	}

	var entries []database.RegistryEntry
	err = s.db.WithContext(r.Context()).
		Joins("JOIN model_artifacts ON model_artifacts.id = registry_entries.model_id").
		Where("model_artifacts.user_id = ?", userId).
		Order("registry_entries.creation_time DESC").
		Find(&entries).Error
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error listing registry entries: %w", err))
	}

	dtos := make([]api.RegistryEntry, 0, len(entries))
	for _, entry := range entries {
		dtos = append(dtos, registryEntryDto(entry))
	}
	return dtos, nil
}

// DeleteRegistryEntry tears down the hosted endpoint before removing the
// catalog record, so a teardown failure leaves the entry visible for retry.
func (s *BackendService) DeleteRegistryEntry(r *http.Request) (any, error) {
	entry, err := s.getOwnedRegistryEntry(r)
	if err != nil {
		return nil, err
	}

	if err := s.provider.DeleteEndpoint(r.Context(), entry.Endpoint); err != nil {
		return nil, CodedError(http.StatusBadGateway, fmt.Errorf("error deleting endpoint for registry entry %s: %w", entry.Id, err))
	}

	if err := database.DeleteRegistryEntry(r.Context(), s.db, entry.Id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // concurrent delete already removed it
		}
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	return nil, nil
}

// GetJobStatus reports the lifecycle state of a submitted deployment. Safe to
// poll; reads the job record only.
func (s *BackendService) GetJobStatus(r *http.Request) (any, error) {
	userId, err := callerId(r)
	if err != nil {
		return nil, err
	}

	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	status, err := s.status.GetJobStatus(r.Context(), jobId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "job %s not found", jobId)
		}
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error loading job %s: %w", jobId, err))
	}

	if status.UserId != userId {
		return nil, CodedErrorf(http.StatusNotFound, "job %s not found", jobId)
	}

	return api.JobStatusResponse{
		JobId:       status.JobId,
		Status:      status.Status,
		ReferenceId: status.ReferenceId,
		Error:       status.Error,
	}, nil
}
