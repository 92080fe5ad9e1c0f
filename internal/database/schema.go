package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ModelQueued     string = "QUEUED"
	ModelProcessing string = "PROCESSING"
	ModelCompleted  string = "COMPLETED"
	ModelFailed     string = "FAILED"
)

// IsTerminalStatus reports whether a model status is absorbing: once a model
// is COMPLETED or FAILED it must never transition back.
func IsTerminalStatus(status string) bool {
	return status == ModelCompleted || status == ModelFailed
}

type User struct {
	Id         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExternalId string    `gorm:"uniqueIndex;not null"`
	Email      string
	CreatedAt  time.Time
}

type Photo struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId uuid.UUID `gorm:"type:uuid;index;not null"`

	StoragePath string `gorm:"not null"`
	Filename    string
	Size        int64
	ContentType string

	CreatedAt time.Time
}

// Model is one requested fine-tune. Its primary key is the remote provider's
// training id, assigned when the training is accepted.
type Model struct {
	Id     string    `gorm:"primaryKey"`
	UserId uuid.UUID `gorm:"type:uuid;index;not null"`

	Name        string
	TriggerWord string `gorm:"not null"`
	Status      string `gorm:"size:20;not null"`

	Steps        int
	LearningRate float64
	LoraRank     int
	Optimizer    string
	Resolution   string
	BatchSize    int

	// Version of the trained destination model, filled in on completion.
	Version  string
	ErrorMsg string

	ProviderMeta datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Photos []ModelPhoto `gorm:"foreignKey:ModelId;constraint:OnDelete:CASCADE"`
}

type ModelPhoto struct {
	ModelId string    `gorm:"primaryKey"`
	PhotoId uuid.UUID `gorm:"type:uuid;primaryKey"`
}

const (
	GenerationPending   string = "PENDING"
	GenerationCompleted string = "COMPLETED"
	GenerationFailed    string = "FAILED"
)

// Generation is one image generated with a trained model. Primary key is the
// remote provider's prediction id.
type Generation struct {
	Id      string    `gorm:"primaryKey"`
	UserId  uuid.UUID `gorm:"type:uuid;index;not null"`
	ModelId string    `gorm:"index;not null"`

	Prompt   string `gorm:"not null"`
	Status   string `gorm:"size:20;not null"`
	ImageURL string
	ErrorMsg string

	CreatedAt time.Time
	UpdatedAt time.Time
}
