package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SignupRequest struct {
	Username string
	Email    string
	Password string
}

type LoginRequest struct {
	Email    string
	Password string
}

type AuthResponse struct {
	UserId uuid.UUID
	Token  string
}

type Model struct {
	Id              uuid.UUID
	Name            string
	Type            string
	StorageLocation string
	UploadTime      time.Time
	Version         int
}

type UploadModelResponse struct {
	ModelId         uuid.UUID
	StorageLocation string
}

// UpdateModelRequest carries the caller's last-seen version; the update only
// lands if it still matches.
type UpdateModelRequest struct {
	Type    string
	Version int
}

type ListModelsParams struct {
	Name string `schema:"name"`
}

type RegistryEntry struct {
	Id           uuid.UUID
	ModelId      uuid.UUID
	ModelVersion string
	Status       string
	Endpoint     string
	CreationTime time.Time
	Version      int
}

type DeployResponse struct {
	Message string
	JobId   uuid.UUID
}

type JobStatusResponse struct {
	JobId       uuid.UUID
	Status      string
	ReferenceId *uuid.UUID `json:"ReferenceId,omitempty"`
	Error       string     `json:"Error,omitempty"`
}

type InferenceResponse struct {
	InferenceId uuid.UUID
	Status      string
	Result      json.RawMessage
}

type InferenceStats struct {
	RegistryEntryId uuid.UUID
	ModelName       string
	ModelType       string
	ModelVersion    string
	RunCount        int64
}
