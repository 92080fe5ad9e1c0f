package training_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"visiona-backend/internal/database"
	"visiona-backend/internal/training"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func processingModel(id string, age time.Duration) *database.Model {
	now := time.Now().UTC()
	return &database.Model{
		Id:          id,
		UserId:      uuid.New(),
		TriggerWord: "TOK",
		Status:      database.ModelProcessing,
		CreatedAt:   now.Add(-age),
		UpdatedAt:   now.Add(-age),
	}
}

func TestReconcileTerminalStatusIsAbsorbing(t *testing.T) {
	for _, status := range []string{database.ModelCompleted, database.ModelFailed} {
		model := processingModel("train-1", time.Minute)
		model.Status = status

		db := createDB(t, model)
		provider := newFakeProvider(t)
		svc := newTestService(db, provider.client(), training.Config{})

		res, err := svc.Reconcile(context.Background(), "train-1")
		require.NoError(t, err)
		assert.Equal(t, status, res.Status)
		assert.False(t, res.Changed)

		// A terminal model never generates provider traffic.
		assert.Equal(t, 0, provider.getTrainingCalls)
	}
}

func TestReconcileStatusMapping(t *testing.T) {
	cases := []struct {
		remote  string
		local   string
		changed bool
	}{
		{"starting", database.ModelProcessing, false},
		{"processing", database.ModelProcessing, false},
		{"succeeded", database.ModelCompleted, true},
		{"failed", database.ModelFailed, true},
		{"canceled", database.ModelFailed, true},
		{"some_future_status", database.ModelProcessing, false},
	}

	for _, tc := range cases {
		t.Run(tc.remote, func(t *testing.T) {
			db := createDB(t, processingModel("train-1", time.Minute))
			provider := newFakeProvider(t)
			provider.getTraining = func(id string) (int, string) {
				return http.StatusOK, fmt.Sprintf(`{"id": %q, "status": %q, "error": "boom"}`, id, tc.remote)
			}
			svc := newTestService(db, provider.client(), training.Config{})

			res, err := svc.Reconcile(context.Background(), "train-1")
			require.NoError(t, err)
			assert.Equal(t, tc.local, res.Status)
			assert.Equal(t, tc.changed, res.Changed)

			var stored database.Model
			require.NoError(t, db.First(&stored, "id = ?", "train-1").Error)
			assert.Equal(t, tc.local, stored.Status)
			if tc.local == database.ModelFailed {
				assert.Equal(t, "boom", stored.ErrorMsg)
			}
		})
	}
}

func TestReconcileRecordsVersionOnCompletion(t *testing.T) {
	db := createDB(t, processingModel("train-1", time.Minute))
	provider := newFakeProvider(t)
	provider.getTraining = func(id string) (int, string) {
		return http.StatusOK, fmt.Sprintf(`{"id": %q, "status": "succeeded", "output": {"version": "acme/my-model:abc123", "weights": "https://w"}}`, id)
	}
	svc := newTestService(db, provider.client(), training.Config{})

	res, err := svc.Reconcile(context.Background(), "train-1")
	require.NoError(t, err)
	assert.Equal(t, database.ModelCompleted, res.Status)
	assert.True(t, res.Changed)

	var stored database.Model
	require.NoError(t, db.First(&stored, "id = ?", "train-1").Error)
	assert.Equal(t, "acme/my-model:abc123", stored.Version)
}

func TestReconcileRemoteTrainingGone(t *testing.T) {
	db := createDB(t, processingModel("train-1", time.Minute))
	provider := newFakeProvider(t)
	provider.getTraining = func(id string) (int, string) {
		return http.StatusNotFound, `{"detail": "not found"}`
	}
	svc := newTestService(db, provider.client(), training.Config{})

	res, err := svc.Reconcile(context.Background(), "train-1")
	require.NoError(t, err)
	assert.Equal(t, database.ModelFailed, res.Status)
	assert.True(t, res.Changed)

	var stored database.Model
	require.NoError(t, db.First(&stored, "id = ?", "train-1").Error)
	assert.Contains(t, stored.ErrorMsg, "not found")
}

func TestReconcileStalledFlag(t *testing.T) {
	db := createDB(t, processingModel("train-1", 2*time.Hour))
	provider := newFakeProvider(t)
	svc := newTestService(db, provider.client(), training.Config{})

	res, err := svc.Reconcile(context.Background(), "train-1")
	require.NoError(t, err)
	assert.Equal(t, database.ModelProcessing, res.Status)
	assert.True(t, res.Stalled)
	assert.False(t, res.Changed)
}

func TestReconcileForceFailsAfterTimeout(t *testing.T) {
	db := createDB(t, processingModel("train-1", 25*time.Hour))
	provider := newFakeProvider(t)
	svc := newTestService(db, provider.client(), training.Config{})

	res, err := svc.Reconcile(context.Background(), "train-1")
	require.NoError(t, err)
	assert.Equal(t, database.ModelFailed, res.Status)
	assert.True(t, res.Changed)

	var stored database.Model
	require.NoError(t, db.First(&stored, "id = ?", "train-1").Error)
	assert.Contains(t, stored.ErrorMsg, "timed out")
}

func TestReconcileProviderErrorPropagates(t *testing.T) {
	db := createDB(t, processingModel("train-1", time.Minute))
	provider := newFakeProvider(t)
	provider.getTraining = func(id string) (int, string) {
		return http.StatusInternalServerError, `{"detail": "overloaded"}`
	}
	svc := newTestService(db, provider.client(), training.Config{})

	_, err := svc.Reconcile(context.Background(), "train-1")
	require.Error(t, err)

	// The model is left untouched for the next poll.
	var stored database.Model
	require.NoError(t, db.First(&stored, "id = ?", "train-1").Error)
	assert.Equal(t, database.ModelProcessing, stored.Status)
}

func TestReconcileMissingModel(t *testing.T) {
	svc := newTestService(createDB(t), newFakeProvider(t).client(), training.Config{})

	_, err := svc.Reconcile(context.Background(), "no-such-model")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func pendingGeneration(id string) *database.Generation {
	now := time.Now().UTC()
	return &database.Generation{
		Id:        id,
		UserId:    uuid.New(),
		ModelId:   "train-1",
		Prompt:    "TOK, on a beach",
		Status:    database.GenerationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestReconcileGeneration(t *testing.T) {
	t.Run("Succeeded", func(t *testing.T) {
		db := createDB(t, pendingGeneration("pred-1"))
		provider := newFakeProvider(t)
		provider.getPrediction = func(id string) (int, string) {
			return http.StatusOK, fmt.Sprintf(`{"id": %q, "status": "succeeded", "output": ["https://img.test/out.png"]}`, id)
		}
		svc := newTestService(db, provider.client(), training.Config{})

		generation, err := svc.ReconcileGeneration(context.Background(), "pred-1")
		require.NoError(t, err)
		assert.Equal(t, database.GenerationCompleted, generation.Status)
		assert.Equal(t, "https://img.test/out.png", generation.ImageURL)
	})

	t.Run("Failed", func(t *testing.T) {
		db := createDB(t, pendingGeneration("pred-1"))
		provider := newFakeProvider(t)
		provider.getPrediction = func(id string) (int, string) {
			return http.StatusOK, fmt.Sprintf(`{"id": %q, "status": "failed", "error": "nsfw content detected"}`, id)
		}
		svc := newTestService(db, provider.client(), training.Config{})

		generation, err := svc.ReconcileGeneration(context.Background(), "pred-1")
		require.NoError(t, err)
		assert.Equal(t, database.GenerationFailed, generation.Status)
		assert.Equal(t, "nsfw content detected", generation.ErrorMsg)
	})

	t.Run("NotFound", func(t *testing.T) {
		db := createDB(t, pendingGeneration("pred-1"))
		provider := newFakeProvider(t)
		provider.getPrediction = func(id string) (int, string) {
			return http.StatusNotFound, `{"detail": "gone"}`
		}
		svc := newTestService(db, provider.client(), training.Config{})

		generation, err := svc.ReconcileGeneration(context.Background(), "pred-1")
		require.NoError(t, err)
		assert.Equal(t, database.GenerationFailed, generation.Status)
	})

	t.Run("StillProcessing", func(t *testing.T) {
		db := createDB(t, pendingGeneration("pred-1"))
		provider := newFakeProvider(t)
		svc := newTestService(db, provider.client(), training.Config{})

		generation, err := svc.ReconcileGeneration(context.Background(), "pred-1")
		require.NoError(t, err)
		assert.Equal(t, database.GenerationPending, generation.Status)
	})
}
