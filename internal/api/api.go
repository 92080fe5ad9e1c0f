package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"visiona-backend/internal/database"
	"visiona-backend/internal/messaging"
	"visiona-backend/internal/replicate"
	"visiona-backend/internal/storage"
	"visiona-backend/internal/training"
	"visiona-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxUploadBytes = 32 << 20

type BackendService struct {
	db          *gorm.DB
	store       storage.ObjectStore
	trainer     *training.Service
	publisher   messaging.Publisher
	photoBucket string
}

func NewBackendService(db *gorm.DB, store storage.ObjectStore, trainer *training.Service, publisher messaging.Publisher, photoBucket string) *BackendService {
	return &BackendService{db: db, store: store, trainer: trainer, publisher: publisher, photoBucket: photoBucket}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	// Webhook deliveries are treated as equivalent to a client-triggered
	// reconcile; the payload is untrusted and only the id is read from it.
	r.Post("/webhooks/training", RestHandler(s.TrainingWebhook))

	r.Group(func(r chi.Router) {
		r.Use(PrincipalMiddleware(s.db))

		r.Route("/photos", func(r chi.Router) {
			r.Post("/", RestHandler(s.UploadPhotos))
			r.Get("/", RestHandler(s.ListPhotos))
			r.Delete("/{photo_id}", RestHandler(s.DeletePhoto))
		})
		r.Route("/models", func(r chi.Router) {
			r.Post("/", RestHandler(s.SubmitTraining))
			r.Get("/", RestHandler(s.ListModels))
			r.Get("/{model_id}", RestHandler(s.GetModel))
			r.Delete("/{model_id}", RestHandler(s.DeleteModel))
			r.Post("/{model_id}/reconcile", RestHandler(s.ReconcileModel))
		})
		r.Route("/generations", func(r chi.Router) {
			r.Post("/", RestHandler(s.CreateGeneration))
			r.Get("/", RestHandler(s.ListGenerations))
			r.Get("/{generation_id}", RestHandler(s.GetGeneration))
		})
	})
}

func (s *BackendService) UploadPhotos(r *http.Request) (any, error) {
	user, err := RequestUser(r)
	if err != nil {
		return nil, err
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart upload: %v", err)
	}

	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "no photos provided, expected multipart field 'photos'")
	}

	ctx := r.Context()

	var photos []api.Photo
	for _, header := range files {
		photo, err := s.storePhoto(r, user, header)
		if err != nil {
			return nil, err
		}

		if err := s.db.WithContext(ctx).Create(photo).Error; err != nil {
			slog.Error("error creating photo record", "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to save photo record")
		}

		photos = append(photos, toApiPhoto(*photo))
	}

	slog.Info("photos uploaded", "user_id", user.Id, "count", len(photos))
	return api.UploadPhotosResponse{Photos: photos}, nil
}

func (s *BackendService) storePhoto(r *http.Request, user database.User, header *multipart.FileHeader) (*database.Photo, error) {
	file, err := header.Open()
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to read uploaded file %s", header.Filename)
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.New()
	key := fmt.Sprintf("photos/%s/%s%s", user.Id, id, strings.ToLower(filepath.Ext(header.Filename)))

	if err := s.store.PutObject(r.Context(), s.photoBucket, key, file, storage.PutOptions{
		ContentType: contentType,
		NoOverwrite: true,
	}); err != nil {
		slog.Error("error uploading photo to object storage", "error", err)
		return nil, CodedErrorf(http.StatusBadGateway, "failed to store photo %s", header.Filename)
	}

	return &database.Photo{
		Id:          id,
		UserId:      user.Id,
		StoragePath: key,
		Filename:    header.Filename,
		Size:        header.Size,
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *BackendService) ListPhotos(r *http.Request) (any, error) {
	user, err := RequestUser(r)
	if err != nil {
		return nil, err
	}

	var photos []database.Photo
	if err := s.db.WithContext(r.Context()).
		Where("user_id = ?", user.Id).
		Order("created_at DESC").
		Find(&photos).Error; err != nil {
		slog.Error("error listing photos", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving photos")
	}

	result := make([]api.Photo, len(photos))
	for i, p := range photos {
		result[i] = toApiPhoto(p)
	}
	return result, nil
}

func (s *BackendService) DeletePhoto(r *http.Request) (any, error) {
	user, err := RequestUser(r)
	if err != nil {
		return nil, err
	}

	photoId, err := URLParamUUID(r, "photo_id")
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	var photo database.Photo
	if err := s.db.WithContext(ctx).First(&photo, "id = ? AND user_id = ?", photoId, user.Id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "photo not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving photo record")
	}

	if err := s.db.WithContext(ctx).Delete(&photo).Error; err != nil {
		slog.Error("error deleting photo record", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete photo")
	}

	if err := s.store.DeleteObject(ctx, s.photoBucket, photo.StoragePath); err != nil {
		// The row is gone; the blob leak is logged, not surfaced.
		slog.Warn("failed to delete photo object", "path", photo.StoragePath, "error", err)
	}

	return nil, nil
}

func (s *BackendService) SubmitTraining(r *http.Request) (any, error) {
	user, err := RequestUser(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.TrainRequest](r)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.TriggerWord) == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "trigger word is required")
	}
	if len(req.PhotoIds) == 0 {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "photo_ids must be a non-empty array")
	}

	ctx := r.Context()

	// Validation and ownership failures abort before any archive is built or
	// any provider call is made.
	photos, err := s.trainer.ResolvePhotos(ctx, user.Id, req.PhotoIds)
	if err != nil {
		var ownErr *training.OwnershipError
		switch {
		case errors.Is(err, training.ErrInsufficientPhotos):
			return nil, CodedError(http.StatusBadRequest, err)
		case errors.As(err, &ownErr):
			return nil, CodedError(http.StatusForbidden, err)
		default:
			slog.Error("error resolving photos", "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "error resolving photos")
		}
	}

	archiveURL, err := s.trainer.BuildArchive(ctx, user.Id, photos)
	if err != nil {
		if errors.Is(err, training.ErrTooFewDownloads) {
			return nil, CodedError(http.StatusBadGateway, err)
		}
		slog.Error("error building training archive", "error", err)
		return nil, CodedErrorf(http.StatusBadGateway, "failed to package training photos: %v", err)
	}

	model, err := s.trainer.Submit(ctx, user.Id, training.SubmitRequest{
		Name:        req.Name,
		TriggerWord: req.TriggerWord,
		ArchiveURL:  archiveURL,
		PhotoIds:    req.PhotoIds,
		Params: training.Hyperparams{
			Steps:        req.Params.Steps,
			LearningRate: req.Params.LearningRate,
			LoraRank:     req.Params.LoraRank,
			Optimizer:    req.Params.Optimizer,
			Resolution:   req.Params.Resolution,
			BatchSize:    req.Params.BatchSize,
		},
	})
	if err != nil {
		var provErr *replicate.Error
		var persistErr *training.PersistenceError
		switch {
		case errors.Is(err, training.ErrMissingTriggerWord):
			return nil, CodedError(http.StatusUnprocessableEntity, err)
		case errors.As(err, &provErr):
			return nil, CodedError(http.StatusBadGateway, err)
		case errors.As(err, &persistErr):
			return nil, CodedError(http.StatusInternalServerError, err)
		default:
			slog.Error("error submitting training", "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "failed to submit training")
		}
	}

	// Kick off background polling; webhook deliveries land on the same path.
	if err := s.publisher.PublishReconcileTask(ctx, messaging.ReconcileTaskPayload{ModelId: model.Id}); err != nil {
		slog.Error("error publishing reconcile task", "model_id", model.Id, "error", err)
	}

	slog.Info("submitted training job", "model_id", model.Id, "user_id", user.Id)
	return api.TrainResponse{Message: "Training job submitted", ModelId: model.Id, Status: model.Status}, nil
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	user, err := RequestUser(r)
	if err != nil {
		return nil, err
	}

	query, err := ParseRequestQueryParams[api.ListQuery](r)
	if err != nil {
		return nil, err
	}
	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 100
	}

	var models []database.Model
	if err := s.db.WithContext(r.Context()).
		Where("user_id = ?", user.Id).
		Order("created_at DESC").
		Limit(query.Limit).
		Offset(query.Offset).
		Find(&models).Error; err != nil {
		slog.Error("error listing models", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving models")
	}

	result := make([]api.Model, len(models))
	for i, m := range models {
		result[i] = toApiModel(m)
	}
	return result, nil
}

func (s *BackendService) getUserModel(r *http.Request) (database.Model, error) {
	user, err := RequestUser(r)
	if err != nil {
		return database.Model{}, err
	}

	modelId := chi.URLParam(r, "model_id")
	if modelId == "" {
		return database.Model{}, CodedErrorf(http.StatusBadRequest, "missing {model_id} url parameter")
	}

	var model database.Model
	if err := s.db.WithContext(r.Context()).First(&model, "id = ? AND user_id = ?", modelId, user.Id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Model{}, CodedErrorf(http.StatusNotFound, "model not found")
		}
		slog.Error("error getting model", "error", err)
		return database.Model{}, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}
	return model, nil
}

func (s *BackendService) GetModel(r *http.Request) (any, error) {
	model, err := s.getUserModel(r)
	if err != nil {
		return nil, err
	}
	return toApiModel(model), nil
}

func (s *BackendService) DeleteModel(r *http.Request) (any, error) {
	model, err := s.getUserModel(r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	err = s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Where("model_id = ?", model.Id).Delete(&database.ModelPhoto{}).Error; err != nil {
			return err
		}
		return txn.Delete(&model).Error
	})
	if err != nil {
		slog.Error("error deleting model", "model_id", model.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to delete model")
	}

	return nil, nil
}

func (s *BackendService) ReconcileModel(r *http.Request) (any, error) {
	model, err := s.getUserModel(r)
	if err != nil {
		return nil, err
	}

	return s.reconcile(r, model.Id)
}

func (s *BackendService) TrainingWebhook(r *http.Request) (any, error) {
	var payload struct {
		Id string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Id == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "webhook payload missing training id")
	}

	return s.reconcile(r, payload.Id)
}

func (s *BackendService) reconcile(r *http.Request, modelId string) (any, error) {
	res, err := s.trainer.Reconcile(r.Context(), modelId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		var provErr *replicate.Error
		if errors.As(err, &provErr) {
			return nil, CodedError(http.StatusBadGateway, err)
		}
		slog.Error("error reconciling model", "model_id", modelId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error reconciling model status")
	}

	return api.ReconcileResponse{ModelId: modelId, Status: res.Status, Changed: res.Changed, Stalled: res.Stalled}, nil
}

func (s *BackendService) CreateGeneration(r *http.Request) (any, error) {
	user, err := RequestUser(r)
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.GenerateRequest](r)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "prompt is required")
	}

	ctx := r.Context()

	var model database.Model
	if err := s.db.WithContext(ctx).First(&model, "id = ? AND user_id = ?", req.ModelId, user.Id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "model not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving model record")
	}

	if model.Status != database.ModelCompleted || model.Version == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "model is not ready: model has status %s", model.Status)
	}

	// The trigger word activates the fine-tune; prompts prepend it as a
	// comma-separated token.
	prompt := model.TriggerWord + ", " + strings.TrimSpace(req.Prompt)

	generation, err := s.trainer.Generate(ctx, user.Id, model, prompt)
	if err != nil {
		var provErr *replicate.Error
		if errors.As(err, &provErr) {
			return nil, CodedError(http.StatusBadGateway, err)
		}
		slog.Error("error creating generation", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create generation")
	}

	return toApiGeneration(*generation), nil
}

func (s *BackendService) ListGenerations(r *http.Request) (any, error) {
	user, err := RequestUser(r)
	if err != nil {
		return nil, err
	}

	var generations []database.Generation
	if err := s.db.WithContext(r.Context()).
		Where("user_id = ?", user.Id).
		Order("created_at DESC").
		Find(&generations).Error; err != nil {
		slog.Error("error listing generations", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving generations")
	}

	result := make([]api.Generation, len(generations))
	for i, g := range generations {
		result[i] = toApiGeneration(g)
	}
	return result, nil
}

func (s *BackendService) GetGeneration(r *http.Request) (any, error) {
	user, err := RequestUser(r)
	if err != nil {
		return nil, err
	}

	generationId := chi.URLParam(r, "generation_id")
	if generationId == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing {generation_id} url parameter")
	}

	ctx := r.Context()

	var generation database.Generation
	if err := s.db.WithContext(ctx).First(&generation, "id = ? AND user_id = ?", generationId, user.Id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "generation not found")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving generation record")
	}

	if generation.Status == database.GenerationPending {
		refreshed, err := s.trainer.ReconcileGeneration(ctx, generationId)
		if err != nil {
			slog.Warn("error refreshing generation status", "generation_id", generationId, "error", err)
		} else {
			generation = *refreshed
		}
	}

	return toApiGeneration(generation), nil
}
