package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job lifecycle states. PENDING is assigned at submission, STARTED by the
// worker's start signal, the rest are terminal.
const (
	JobPending string = "PENDING"
	JobStarted string = "STARTED"
	JobSuccess string = "SUCCESS"
	JobFailure string = "FAILURE"
	JobTimeout string = "TIMEOUT"
)

func IsTerminalJobStatus(status string) bool {
	return status == JobSuccess || status == JobFailure || status == JobTimeout
}

const (
	ModelTypeTensorflow string = "tensorflow"
	ModelTypePytorch    string = "pytorch"
)

const (
	JobTypeModelRegistry string = "model_registry"
)

type User struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username     string    `gorm:"size:80;uniqueIndex;not null"`
	Email        string    `gorm:"size:120;uniqueIndex;not null"`
	PasswordHash string    `gorm:"size:128;not null"`
}

type ModelArtifact struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;not null"`
	User   *User     `gorm:"foreignKey:UserId"`

	Name            string `gorm:"size:80;uniqueIndex;not null"`
	Type            string `gorm:"size:20;not null"`
	StorageLocation string `gorm:"size:200;uniqueIndex;not null"`
	UploadTime      time.Time

	// Version is the optimistic-concurrency counter for the mutable fields
	// (currently only Type). Incremented atomically with each guarded update.
	Version int `gorm:"not null;default:0"`
}

type RegistryEntry struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ModelId uuid.UUID      `gorm:"type:uuid;not null;index"`
	Model   *ModelArtifact `gorm:"foreignKey:ModelId"`

	ModelVersion string `gorm:"size:80;not null"`
	Status       string `gorm:"size:80;not null"`
	Endpoint     string `gorm:"size:200;not null"`
	CreationTime time.Time

	Version int `gorm:"not null;default:0"`
}

// Job is the audit record for one asynchronous deployment attempt. The id is
// minted by the dispatch layer when the task is enqueued, not by the
// orchestrator. Jobs are never deleted.
type Job struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;not null"`
	User   *User     `gorm:"foreignKey:UserId"`

	Type         string `gorm:"size:80;not null"`
	CreationTime time.Time
	Status       string `gorm:"size:20;not null"`

	// ModelId is the artifact this job acts on. Recorded at creation so
	// PENDING jobs can be re-dispatched after a restart of the in-process
	// queue.
	ModelId uuid.UUID `gorm:"type:uuid;not null"`

	// ReferenceId stays null until the job reaches a terminal state. For
	// model_registry jobs it points at the RegistryEntry created on success.
	ReferenceId uuid.NullUUID `gorm:"type:uuid"`

	// Error holds the failure detail for FAILURE/TIMEOUT jobs.
	Error string
}

type Inference struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;not null"`
	User   *User     `gorm:"foreignKey:UserId"`

	RegistryEntryId uuid.UUID      `gorm:"type:uuid;not null;index"`
	RegistryEntry   *RegistryEntry `gorm:"foreignKey:RegistryEntryId"`

	Time   time.Time
	Status string         `gorm:"size:80;not null"`
	Output datatypes.JSON `gorm:"type:jsonb"`
}
