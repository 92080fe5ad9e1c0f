package versions

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

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

type ModelPhoto struct {
	ModelId string    `gorm:"primaryKey"`
	PhotoId uuid.UUID `gorm:"type:uuid;primaryKey"`
}

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

	Version  string
	ErrorMsg string

	ProviderMeta datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Photos []ModelPhoto `gorm:"foreignKey:ModelId;constraint:OnDelete:CASCADE"`
}

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

func Migration0(db *gorm.DB) error {
	err := db.AutoMigrate(
		&User{}, &Photo{}, &Model{}, &ModelPhoto{}, &Generation{},
	)
	if err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
