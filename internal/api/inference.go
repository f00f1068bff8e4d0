package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"modelhub-backend/internal/database"
	"modelhub-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const maxInferencePayload = 8 << 20 // 8 MiB

const (
	inferenceCompleted = "completed"
	inferenceFailed    = "failed"
)

// Invoke forwards the request payload to the hosted endpoint and records the
// run. Failed invocations are recorded too so the stats reflect every attempt.
func (s *BackendService) Invoke(r *http.Request) (any, error) {
	userId, err := callerId(r)
	if err != nil {
		return nil, err
	}

	entry, err := s.getOwnedRegistryEntry(r)
	if err != nil {
		return nil, err
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxInferencePayload))
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to read request body: %v", err)
	}
	if !json.Valid(payload) {
		return nil, CodedErrorf(http.StatusBadRequest, "inference payload must be valid json")
	}

	run := database.Inference{
		Id:              uuid.New(),
		UserId:          userId,
		RegistryEntryId: entry.Id,
		Time:            time.Now().UTC(),
	}

	result, invokeErr := s.provider.Invoke(r.Context(), entry.Endpoint, payload)
	if invokeErr != nil {
		run.Status = inferenceFailed
	} else {
		run.Status = inferenceCompleted
		run.Output = datatypes.JSON(result)
	}

	if err := s.db.WithContext(r.Context()).Create(&run).Error; err != nil {
		slog.Error("error recording inference run", "registry_id", entry.Id, "error", err)
	}

	if invokeErr != nil {
		return nil, CodedError(http.StatusBadGateway, fmt.Errorf("error invoking endpoint for registry entry %s: %w", entry.Id, invokeErr))
	}

	return api.InferenceResponse{
		InferenceId: run.Id,
		Status:      run.Status,
		Result:      json.RawMessage(result),
	}, nil
}

func (s *BackendService) GetInferenceStats(r *http.Request) (any, error) {
	if _, err := callerId(r); err != nil {
		return nil, err
	}

	counts, err := database.CountInferenceRuns(r.Context(), s.db)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	stats := make([]api.InferenceStats, 0, len(counts))
	for _, count := range counts {
		stats = append(stats, api.InferenceStats{
			RegistryEntryId: count.RegistryEntryId,
			ModelName:       count.ModelName,
			ModelType:       count.ModelType,
			ModelVersion:    count.ModelVersion,
			RunCount:        count.RunCount,
		})
	}
	return stats, nil
}
