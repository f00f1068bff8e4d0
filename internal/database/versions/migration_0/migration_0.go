package migration_0

// Baseline schema. Later migrations alter from this state; a clean database
// skips these entirely via the migrator's InitSchema hook.

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
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

type Job struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;not null"`
	User   *User     `gorm:"foreignKey:UserId"`

	Type         string `gorm:"size:80;not null"`
	CreationTime time.Time
	Status       string `gorm:"size:20;not null"`

	ModelId     uuid.UUID     `gorm:"type:uuid;not null"`
	ReferenceId uuid.NullUUID `gorm:"type:uuid"`
	Error       string
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

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{}, &ModelArtifact{}, &RegistryEntry{}, &Job{}, &Inference{},
	)
}
