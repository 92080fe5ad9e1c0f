package api

import (
	"time"

	"github.com/google/uuid"
)

type Photo struct {
	Id          uuid.UUID
	Filename    string
	StoragePath string
	Size        int64
	ContentType string
	CreatedAt   time.Time
}

type UploadPhotosResponse struct {
	Photos []Photo
}

type Hyperparams struct {
	Steps        int     `json:"steps"`
	LearningRate float64 `json:"learning_rate"`
	LoraRank     int     `json:"lora_rank"`
	Optimizer    string  `json:"optimizer"`
	Resolution   string  `json:"resolution"`
	BatchSize    int     `json:"batch_size"`
}

type TrainRequest struct {
	Name        string
	TriggerWord string
	PhotoIds    []uuid.UUID
	Params      Hyperparams
}

type TrainResponse struct {
	Message string
	ModelId string
	Status  string
}

type Model struct {
	Id          string
	Name        string
	TriggerWord string
	Status      string
	Version     string `json:"Version,omitempty"`
	ErrorMsg    string `json:"ErrorMsg,omitempty"`
	Params      Hyperparams
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ReconcileResponse struct {
	ModelId string
	Status  string
	Changed bool
	Stalled bool `json:"Stalled,omitempty"`
}

type GenerateRequest struct {
	ModelId string
	Prompt  string
}

type Generation struct {
	Id        string
	ModelId   string
	Prompt    string
	Status    string
	ImageURL  string `json:"ImageURL,omitempty"`
	ErrorMsg  string `json:"ErrorMsg,omitempty"`
	CreatedAt time.Time
}

type ListQuery struct {
	Limit  int `schema:"limit"`
	Offset int `schema:"offset"`
}
