package integrationtests

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	backend "visiona-backend/internal/api"
	"visiona-backend/internal/database"
	"visiona-backend/internal/messaging"
	"visiona-backend/internal/replicate"
	"visiona-backend/internal/storage"
	"visiona-backend/internal/training"
	"visiona-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	photoBucket   = "visiona-photos"
	archiveBucket = "visiona-archives"
)

// trainingProvider fakes the prediction provider for the pipeline test. It
// fetches the submitted archive URL itself to verify the provider could have.
type trainingProvider struct {
	srv *httptest.Server

	mu          sync.Mutex
	archiveURL  string
	finished    bool
	cancelCalls int
}

func newTrainingProvider(t *testing.T) *trainingProvider {
	f := &trainingProvider{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /v1/trainings/{version}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input replicate.TrainingInput `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.archiveURL = body.Input.InputImages
		f.mu.Unlock()

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "train-int-1", "status": "starting"}`)
	})
	mux.HandleFunc("GET /v1/trainings/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		finished := f.finished
		f.mu.Unlock()

		if finished {
			fmt.Fprintf(w, `{"id": %q, "status": "succeeded", "output": {"version": "acme/portraits:v1"}}`, r.PathValue("id"))
		} else {
			fmt.Fprintf(w, `{"id": %q, "status": "processing"}`, r.PathValue("id"))
		}
	})
	mux.HandleFunc("POST /v1/trainings/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.cancelCalls++
		f.mu.Unlock()
		fmt.Fprint(w, `{"status": "canceled"}`)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *trainingProvider) submittedArchiveURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.archiveURL
}

func (f *trainingProvider) finish() {
	f.mu.Lock()
	f.finished = true
	f.mu.Unlock()
}

func uploadPhotos(t *testing.T, router http.Handler, principal string, count int) []uuid.UUID {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for i := 0; i < count; i++ {
		part, err := writer.CreateFormFile("photos", fmt.Sprintf("photo-%d.jpg", i))
		require.NoError(t, err)
		_, err = part.Write([]byte(fmt.Sprintf("jpeg-bytes-%d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/photos", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(principalHeader, principal)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res api.UploadPhotosResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))

	ids := make([]uuid.UUID, len(res.Photos))
	for i, p := range res.Photos {
		ids[i] = p.Id
	}
	return ids
}

func TestTrainingPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.NewDatabase(setupPostgresContainer(t, ctx))
	require.NoError(t, err)

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        setupMinioContainer(t, ctx),
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(ctx, photoBucket))
	require.NoError(t, store.CreateBucket(ctx, archiveBucket))

	provider := newTrainingProvider(t)
	trainer := training.NewService(db, store, replicate.NewClient(provider.srv.URL, "token", "acme"), training.Config{
		PhotoBucket:      photoBucket,
		ArchiveBucket:    archiveBucket,
		BaseModelVersion: "base-v1",
		RegisterDelay:    time.Millisecond,
	})

	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	router := chi.NewRouter()
	backend.NewBackendService(db, store, trainer, queue, photoBucket).AddRoutes(router)

	photoIds := uploadPhotos(t, router, "pipeline-user", 5)

	var trainRes api.TrainResponse
	require.NoError(t, httpRequest(router, http.MethodPost, "/models", "pipeline-user", api.TrainRequest{
		Name:        "Portraits",
		TriggerWord: "TOK",
		PhotoIds:    photoIds,
		Params:      api.Hyperparams{Steps: 800},
	}, &trainRes))
	require.Equal(t, "train-int-1", trainRes.ModelId)
	require.Equal(t, database.ModelProcessing, trainRes.Status)

	// The archive URL handed to the provider is a live presigned link to a
	// zip holding every photo.
	archiveRes, err := http.Get(provider.submittedArchiveURL())
	require.NoError(t, err)
	defer archiveRes.Body.Close()
	require.Equal(t, http.StatusOK, archiveRes.StatusCode)

	archiveData, err := io.ReadAll(archiveRes.Body)
	require.NoError(t, err)

	reader, err := zip.NewReader(bytes.NewReader(archiveData), int64(len(archiveData)))
	require.NoError(t, err)
	assert.Len(t, reader.File, 5)

	// Still processing on the first reconcile pass.
	var reconcileRes api.ReconcileResponse
	require.NoError(t, httpRequest(router, http.MethodPost, "/models/train-int-1/reconcile", "pipeline-user", nil, &reconcileRes))
	assert.Equal(t, database.ModelProcessing, reconcileRes.Status)
	assert.False(t, reconcileRes.Changed)

	provider.finish()

	require.NoError(t, httpRequest(router, http.MethodPost, "/models/train-int-1/reconcile", "pipeline-user", nil, &reconcileRes))
	assert.Equal(t, database.ModelCompleted, reconcileRes.Status)
	assert.True(t, reconcileRes.Changed)

	var model api.Model
	require.NoError(t, httpRequest(router, http.MethodGet, "/models/train-int-1", "pipeline-user", nil, &model))
	assert.Equal(t, database.ModelCompleted, model.Status)
	assert.Equal(t, "acme/portraits:v1", model.Version)
	assert.Equal(t, 800, model.Params.Steps)
}
