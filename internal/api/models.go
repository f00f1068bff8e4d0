package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"modelhub-backend/internal/database"
	"modelhub-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxUploadSize = 4 << 30 // 4 GiB

func modelDto(artifact database.ModelArtifact) api.Model {
	return api.Model{
		Id:              artifact.Id,
		Name:            artifact.Name,
		Type:            artifact.Type,
		StorageLocation: artifact.StorageLocation,
		UploadTime:      artifact.UploadTime,
		Version:         artifact.Version,
	}
}

func validateModelType(modelType string) error {
	switch modelType {
	case database.ModelTypeTensorflow, database.ModelTypePytorch:
		return nil
	default:
		return CodedErrorf(http.StatusBadRequest, "invalid model type '%s': must be '%s' or '%s'",
			modelType, database.ModelTypeTensorflow, database.ModelTypePytorch)
	}
}

func (s *BackendService) UploadModel(r *http.Request) (any, error) {
	userId, err := callerId(r)
	if err != nil {
		return nil, err
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form: %v", err)
	}

	name := r.FormValue("model_name")
	if err := validateName(name); err != nil {
		return nil, err
	}

	modelType := r.FormValue("model_type")
	if err := validateModelType(modelType); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("model_file")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "missing 'model_file' in upload: %v", err)
	}
	defer file.Close()

	modelId := uuid.New()
	key := filepath.Join("models", modelId.String(), header.Filename)

	if err := s.storage.PutObject(r.Context(), key, file); err != nil {
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error storing model artifact: %w", err))
	}

	artifact := database.ModelArtifact{
		Id:              modelId,
		UserId:          userId,
		Name:            name,
		Type:            modelType,
		StorageLocation: s.storage.Location(key),
		UploadTime:      time.Now().UTC(),
	}

	if err := s.db.WithContext(r.Context()).Create(&artifact).Error; err != nil {
		// Keep the store consistent with the catalog if the insert loses.
		if cleanupErr := s.storage.DeleteObjects(r.Context(), filepath.Join("models", modelId.String())); cleanupErr != nil {
			slog.Error("error cleaning up artifact after failed insert", "model_id", modelId, "error", cleanupErr)
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, CodedErrorf(http.StatusConflict, "a model named '%s' already exists", name)
		}
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error recording model artifact: %w", err))
	}

	return api.UploadModelResponse{ModelId: artifact.Id, StorageLocation: artifact.StorageLocation}, nil
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	userId, err := callerId(r)
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListModelsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Where("user_id = ?", userId)
	if params.Name != "" {
		query = query.Where("name = ?", params.Name)
	}

	var artifacts []database.ModelArtifact
	if err := query.Order("upload_time DESC").Find(&artifacts).Error; err != nil {
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error listing models: %w", err))
	}

	models := make([]api.Model, 0, len(artifacts))
	for _, artifact := range artifacts {
		models = append(models, modelDto(artifact))
	}
	return models, nil
}

func (s *BackendService) getOwnedArtifact(r *http.Request) (database.ModelArtifact, error) {
	userId, err := callerId(r)
	if err != nil {
		return database.ModelArtifact{}, err
	}

	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return database.ModelArtifact{}, err
	}

	artifact, err := database.GetModelArtifact(r.Context(), s.db, modelId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.ModelArtifact{}, CodedErrorf(http.StatusNotFound, "model %s not found", modelId)
		}
		return database.ModelArtifact{}, CodedError(http.StatusInternalServerError, fmt.Errorf("error loading model %s: %w", modelId, err))
	}

	if artifact.UserId != userId {
		// Hide other users' models rather than acknowledging them.
		return database.ModelArtifact{}, CodedErrorf(http.StatusNotFound, "model %s not found", modelId)
	}
	return artifact, nil
}

func (s *BackendService) GetModel(r *http.Request) (any, error) {
	artifact, err := s.getOwnedArtifact(r)
	if err != nil {
		return nil, err
	}
	return modelDto(artifact), nil
}

func (s *BackendService) UpdateModel(r *http.Request) (any, error) {
	artifact, err := s.getOwnedArtifact(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.UpdateModelRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateModelType(req.Type); err != nil {
		return nil, err
	}

	updated, err := database.UpdateArtifactType(r.Context(), s.db, artifact.Id, req.Type, req.Version)
	if err != nil {
		if errors.Is(err, database.ErrVersionConflict) {
			return nil, CodedErrorf(http.StatusConflict, "model %s was modified concurrently, re-read and retry", artifact.Id)
		}
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error updating model %s: %w", artifact.Id, err))
	}

	return modelDto(updated), nil
}

func (s *BackendService) DeleteModel(r *http.Request) (any, error) {
	artifact, err := s.getOwnedArtifact(r)
	if err != nil {
		return nil, err
	}

	var deployed int64
	if err := s.db.WithContext(r.Context()).
		Model(&database.RegistryEntry{}).
		Where("model_id = ?", artifact.Id).
		Count(&deployed).Error; err != nil {
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error checking registry entries for model %s: %w", artifact.Id, err))
	}
	if deployed > 0 {
		return nil, CodedErrorf(http.StatusConflict, "model %s has active registry entries, delete them first", artifact.Id)
	}

	if err := s.db.WithContext(r.Context()).Delete(&database.ModelArtifact{}, "id = ?", artifact.Id).Error; err != nil {
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error deleting model %s: %w", artifact.Id, err))
	}

	if err := s.storage.DeleteObjects(r.Context(), filepath.Join("models", artifact.Id.String())); err != nil {
		slog.Error("error deleting model artifact objects", "model_id", artifact.Id, "error", err)
	}

	return nil, nil
}
