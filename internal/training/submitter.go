package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"visiona-backend/internal/database"
	"visiona-backend/internal/replicate"

	"github.com/google/uuid"
)

var ErrMissingTriggerWord = errors.New("trigger word is required")

// PersistenceError marks the one genuinely awkward failure: the provider
// accepted the training but the local record could not be written. Submit
// attempts a compensating cancel before returning this.
type PersistenceError struct {
	TrainingId string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("training %s was submitted but could not be recorded locally: %v", e.TrainingId, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type SubmitRequest struct {
	Name        string
	TriggerWord string
	ArchiveURL  string
	PhotoIds    []uuid.UUID
	Params      Hyperparams
}

var slugInvalidChars = regexp.MustCompile(`[^a-z0-9-]+`)

// destinationSlug derives the provider-side model name from the display name,
// falling back to the trigger word.
func destinationSlug(name, triggerWord string) string {
	base := strings.TrimSpace(name)
	if base == "" {
		base = triggerWord
	}
	slug := strings.ToLower(base)
	slug = strings.Join(strings.Fields(slug), "-")
	slug = slugInvalidChars.ReplaceAllString(slug, "")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "model-" + uuid.NewString()[:8]
	}
	return slug
}

// Submit registers a destination model, submits the training, and persists
// the local record under the remote training id. Calling it twice with the
// same inputs creates two independent trainings; the caller must not
// double-submit.
func (s *Service) Submit(ctx context.Context, userId uuid.UUID, req SubmitRequest) (*database.Model, error) {
	triggerWord := strings.TrimSpace(req.TriggerWord)
	if triggerWord == "" {
		return nil, ErrMissingTriggerWord
	}
	if strings.ContainsAny(triggerWord, " \t") {
		// Accepted, but prompts downstream prepend the trigger word as a
		// comma-separated token, so spaces dilute its effect.
		slog.Warn("trigger word contains whitespace", "trigger_word", triggerWord)
	}

	params := ClampHyperparams(req.Params)
	destination := destinationSlug(req.Name, triggerWord)

	// Best-effort pre-registration: a conflict means the destination already
	// exists, and any other failure is logged but does not abort, since the
	// training call itself is the authoritative check.
	if err := s.provider.CreateModel(ctx, destination, fmt.Sprintf("Visiona fine-tune for %s", triggerWord)); err != nil {
		slog.Warn("destination model registration failed, continuing to training submission", "destination", destination, "error", err)
	}

	// Give the provider a moment to propagate the new destination.
	select {
	case <-time.After(s.cfg.RegisterDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	webhook := ""
	if strings.HasPrefix(s.cfg.PublicBaseURL, "https://") {
		webhook = strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/webhooks/training"
	}

	training, err := s.provider.CreateTraining(ctx, s.cfg.BaseModelVersion, s.provider.Owner()+"/"+destination, replicate.TrainingInput{
		InputImages:  req.ArchiveURL,
		TriggerWord:  triggerWord,
		Steps:        params.Steps,
		LearningRate: params.LearningRate,
		LoraRank:     params.LoraRank,
		Optimizer:    params.Optimizer,
		Resolution:   params.Resolution,
		BatchSize:    params.BatchSize,
	}, webhook)
	if err != nil {
		return nil, fmt.Errorf("training submission rejected: %w", err)
	}

	model := &database.Model{
		Id:           training.Id,
		UserId:       userId,
		Name:         req.Name,
		TriggerWord:  triggerWord,
		Status:       database.ModelProcessing,
		Steps:        params.Steps,
		LearningRate: params.LearningRate,
		LoraRank:     params.LoraRank,
		Optimizer:    params.Optimizer,
		Resolution:   params.Resolution,
		BatchSize:    params.BatchSize,
		ProviderMeta: []byte(training.Raw),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	for _, photoId := range req.PhotoIds {
		model.Photos = append(model.Photos, database.ModelPhoto{ModelId: training.Id, PhotoId: photoId})
	}

	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.Error("ORPHANED TRAINING: remote job exists but local record failed, attempting cancel",
			"training_id", training.Id, "user_id", userId, "error", err)
		if cancelErr := s.provider.CancelTraining(ctx, training.Id); cancelErr != nil {
			slog.Error("failed to cancel orphaned training, manual reconciliation needed",
				"training_id", training.Id, "error", cancelErr)
		}
		return nil, &PersistenceError{TrainingId: training.Id, Err: err}
	}

	slog.Info("training submitted", "training_id", training.Id, "user_id", userId, "destination", destination)
	return model, nil
}
