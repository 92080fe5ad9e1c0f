package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"visiona-backend/internal/database"
	"visiona-backend/internal/replicate"

	"gorm.io/gorm"
)

type ReconcileResult struct {
	Status  string
	Changed bool
	Stalled bool
}

// mapTrainingStatus translates the provider's status vocabulary into ours.
// The mapping is total: unknown values are treated as still processing so an
// unexpected provider state never fails a job outright.
func mapTrainingStatus(remote string) string {
	switch remote {
	case replicate.StatusSucceeded:
		return database.ModelCompleted
	case replicate.StatusFailed, replicate.StatusCanceled:
		return database.ModelFailed
	case replicate.StatusProcessing, replicate.StatusStarting:
		return database.ModelProcessing
	default:
		slog.Warn("unknown provider training status", "status", remote)
		return database.ModelProcessing
	}
}

// Reconcile maps the remote training status onto the local record. Terminal
// statuses are absorbing: the provider is not contacted once the model is
// COMPLETED or FAILED. All writes go through a single conditional UPDATE so
// concurrent reconciles (webhook vs. poll) cannot regress a terminal state.
func (s *Service) Reconcile(ctx context.Context, modelId string) (ReconcileResult, error) {
	var model database.Model
	if err := s.db.WithContext(ctx).First(&model, "id = ?", modelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ReconcileResult{}, err
		}
		return ReconcileResult{}, fmt.Errorf("error loading model %s: %w", modelId, err)
	}

	if database.IsTerminalStatus(model.Status) {
		return ReconcileResult{Status: model.Status, Changed: false}, nil
	}

	age := time.Since(model.CreatedAt)

	training, err := s.provider.GetTraining(ctx, modelId)
	if err != nil {
		var provErr *replicate.Error
		if errors.As(err, &provErr) && provErr.NotFound() {
			// The remote training was deleted or expired; the local record
			// can never complete.
			return s.transition(ctx, &model, database.ModelFailed,
				fmt.Sprintf("training %s not found on provider (deleted or expired)", modelId))
		}
		if age > failTimeout {
			return s.transition(ctx, &model, database.ModelFailed,
				fmt.Sprintf("training timed out after %s with no provider response", age.Round(time.Minute)))
		}
		return ReconcileResult{}, fmt.Errorf("error querying provider for training %s: %w", modelId, err)
	}

	mapped := mapTrainingStatus(training.Status)

	if mapped == database.ModelProcessing && age > failTimeout {
		// Safety net against jobs the provider never reports back on.
		return s.transition(ctx, &model, database.ModelFailed,
			fmt.Sprintf("training timed out after %s", age.Round(time.Minute)))
	}

	stalled := false
	if mapped == database.ModelProcessing && age > stallThreshold {
		stalled = true
		slog.Warn("training has been processing unusually long", "model_id", modelId, "age", age.Round(time.Minute))
	}

	if mapped == model.Status {
		return ReconcileResult{Status: model.Status, Changed: false, Stalled: stalled}, nil
	}

	if mapped == database.ModelCompleted && training.Output != nil && training.Output.Version != "" {
		if err := database.SetModelVersion(ctx, s.db, modelId, training.Output.Version); err != nil {
			return ReconcileResult{}, err
		}
	}

	res, err := s.transition(ctx, &model, mapped, training.Error)
	if err != nil {
		return res, err
	}
	res.Stalled = stalled
	return res, nil
}

func (s *Service) transition(ctx context.Context, model *database.Model, status, errorMsg string) (ReconcileResult, error) {
	changed, err := database.TransitionModelStatus(ctx, s.db, model.Id, status, errorMsg)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("error persisting status for model %s: %w", model.Id, err)
	}
	if !changed {
		// Lost the race to a concurrent reconcile; report the stored state.
		var current database.Model
		if err := s.db.WithContext(ctx).First(&current, "id = ?", model.Id).Error; err != nil {
			return ReconcileResult{}, fmt.Errorf("error re-loading model %s: %w", model.Id, err)
		}
		return ReconcileResult{Status: current.Status, Changed: false}, nil
	}

	slog.Info("model status updated", "model_id", model.Id, "from", model.Status, "to", status)
	return ReconcileResult{Status: status, Changed: true}, nil
}

// ReconcileGeneration refreshes a pending generation from the provider.
func (s *Service) ReconcileGeneration(ctx context.Context, generationId string) (*database.Generation, error) {
	var generation database.Generation
	if err := s.db.WithContext(ctx).First(&generation, "id = ?", generationId).Error; err != nil {
		return nil, err
	}

	if generation.Status != database.GenerationPending {
		return &generation, nil
	}

	prediction, err := s.provider.GetPrediction(ctx, generationId)
	if err != nil {
		var provErr *replicate.Error
		if errors.As(err, &provErr) && provErr.NotFound() {
			if err := database.UpdateGenerationStatus(ctx, s.db, generationId, database.GenerationFailed, "",
				"prediction not found on provider"); err != nil {
				return nil, err
			}
			generation.Status = database.GenerationFailed
			generation.ErrorMsg = "prediction not found on provider"
			return &generation, nil
		}
		return nil, fmt.Errorf("error querying provider for prediction %s: %w", generationId, err)
	}

	switch prediction.Status {
	case replicate.StatusSucceeded:
		imageURL := ""
		if len(prediction.Output) > 0 {
			imageURL = prediction.Output[0]
		}
		if err := database.UpdateGenerationStatus(ctx, s.db, generationId, database.GenerationCompleted, imageURL, ""); err != nil {
			return nil, err
		}
		generation.Status = database.GenerationCompleted
		generation.ImageURL = imageURL
	case replicate.StatusFailed, replicate.StatusCanceled:
		if err := database.UpdateGenerationStatus(ctx, s.db, generationId, database.GenerationFailed, "", prediction.Error); err != nil {
			return nil, err
		}
		generation.Status = database.GenerationFailed
		generation.ErrorMsg = prediction.Error
	}

	return &generation, nil
}
