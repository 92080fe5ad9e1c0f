package training

import (
	"context"
	"fmt"
	"time"

	"visiona-backend/internal/database"

	"github.com/google/uuid"
)

// Generate starts an inference run against a completed model's trained
// version and records it as a pending generation. The caller is responsible
// for checking that the model is completed and owned by the user.
func (s *Service) Generate(ctx context.Context, userId uuid.UUID, model database.Model, prompt string) (*database.Generation, error) {
	prediction, err := s.provider.CreatePrediction(ctx, model.Version, prompt)
	if err != nil {
		return nil, err
	}

	generation := database.Generation{
		Id:        prediction.Id,
		UserId:    userId,
		ModelId:   model.Id,
		Prompt:    prompt,
		Status:    database.GenerationPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&generation).Error; err != nil {
		return nil, fmt.Errorf("error saving generation %s: %w", prediction.Id, err)
	}

	return &generation, nil
}
