package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransitionModelStatus applies a status change as a single conditional
// UPDATE. The WHERE clause excludes terminal rows, so a racing webhook and a
// manual poll cannot regress a COMPLETED or FAILED model. Returns whether a
// row was actually updated.
func TransitionModelStatus(ctx context.Context, txn *gorm.DB, modelId, status, errorMsg string) (bool, error) {
	updates := map[string]any{"status": status, "updated_at": time.Now().UTC()}
	if errorMsg != "" {
		updates["error_msg"] = errorMsg
	}

	res := txn.WithContext(ctx).
		Model(&Model{}).
		Where("id = ? AND status NOT IN ?", modelId, []string{ModelCompleted, ModelFailed}).
		Updates(updates)
	if res.Error != nil {
		slog.Error("error updating model status", "model_id", modelId, "status", status, "error", res.Error)
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetModelVersion records the trained destination version. Only meaningful on
// completion, kept separate so the transition above stays a single statement.
func SetModelVersion(ctx context.Context, txn *gorm.DB, modelId, version string) error {
	if err := txn.WithContext(ctx).Model(&Model{Id: modelId}).Update("version", version).Error; err != nil {
		slog.Error("error setting model version", "model_id", modelId, "error", err)
		return err
	}
	return nil
}

func UpdateGenerationStatus(ctx context.Context, txn *gorm.DB, generationId, status, imageURL, errorMsg string) error {
	updates := map[string]any{"status": status, "updated_at": time.Now().UTC()}
	if imageURL != "" {
		updates["image_url"] = imageURL
	}
	if errorMsg != "" {
		updates["error_msg"] = errorMsg
	}

	if err := txn.WithContext(ctx).
		Model(&Generation{}).
		Where("id = ? AND status = ?", generationId, GenerationPending).
		Updates(updates).Error; err != nil {
		slog.Error("error updating generation status", "generation_id", generationId, "status", status, "error", err)
		return err
	}
	return nil
}

// GetOrCreateUser resolves the user row for an identity-provider principal,
// creating it lazily on first authenticated request.
func GetOrCreateUser(ctx context.Context, db *gorm.DB, externalId, email string) (User, error) {
	var user User
	err := db.WithContext(ctx).
		Where(User{ExternalId: externalId}).
		Attrs(User{Id: uuid.New(), Email: email, CreatedAt: time.Now().UTC()}).
		FirstOrCreate(&user).Error
	if err != nil {
		return User{}, fmt.Errorf("error resolving user for principal %s: %w", externalId, err)
	}
	return user, nil
}
