package replicate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"visiona-backend/internal/replicate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTraining(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "train-xyz", "status": "starting", "urls": {"get": "https://api.test/v1/trainings/train-xyz"}}`))
	}))
	defer srv.Close()

	client := replicate.NewClient(srv.URL, "secret-token", "acme")

	training, err := client.CreateTraining(context.Background(), "base-v1", "acme/portraits", replicate.TrainingInput{
		InputImages: "https://archives.test/a.zip",
		TriggerWord: "TOK",
		Steps:       1000,
	}, "https://api.visiona.test/webhooks/training")
	require.NoError(t, err)

	assert.Equal(t, "/v1/trainings/base-v1", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "acme/portraits", gotBody["destination"])
	assert.Equal(t, "https://api.visiona.test/webhooks/training", gotBody["webhook"])

	assert.Equal(t, "train-xyz", training.Id)
	assert.Equal(t, replicate.StatusStarting, training.Status)
	// The raw response travels with the training so callers can persist it.
	assert.Contains(t, string(training.Raw), "train-xyz")
}

func TestGetTrainingNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := replicate.NewClient(srv.URL, "secret-token", "acme")

	_, err := client.GetTraining(context.Background(), "train-gone")

	var provErr *replicate.Error
	require.ErrorAs(t, err, &provErr)
	assert.True(t, provErr.NotFound())
	assert.Contains(t, provErr.Body, "not found")
}

func TestCreateModelConflictIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := replicate.NewClient(srv.URL, "secret-token", "acme")
	assert.NoError(t, client.CreateModel(context.Background(), "portraits", "test model"))
}

func TestCreateModelFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "insufficient credit"}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	client := replicate.NewClient(srv.URL, "secret-token", "acme")

	err := client.CreateModel(context.Background(), "portraits", "test model")

	var provErr *replicate.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusPaymentRequired, provErr.StatusCode)
	assert.Contains(t, provErr.Body, "insufficient credit")
}
