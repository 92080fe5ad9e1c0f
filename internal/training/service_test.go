package training_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"visiona-backend/internal/database"
	"visiona-backend/internal/replicate"
	"visiona-backend/internal/training"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

type submittedTraining struct {
	BaseVersion string
	Destination string
	Webhook     string
	Input       replicate.TrainingInput
}

// fakeProvider is an httptest stand-in for the prediction provider. Handlers
// record what they receive; responses are configurable per test.
type fakeProvider struct {
	srv *httptest.Server

	mu sync.Mutex

	createModelStatus int
	createdModels     []string

	nextTrainingId string
	trainings      []submittedTraining
	canceled       []string

	getTrainingCalls int
	getTraining      func(id string) (int, string)

	getPrediction func(id string) (int, string)
}

func newFakeProvider(t *testing.T) *fakeProvider {
	f := &fakeProvider{
		createModelStatus: http.StatusCreated,
		nextTrainingId:    "train-1",
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/models", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.createdModels = append(f.createdModels, body.Name)
		status := f.createModelStatus
		f.mu.Unlock()

		w.WriteHeader(status)
	})

	mux.HandleFunc("POST /v1/trainings/{version}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Destination string                  `json:"destination"`
			Input       replicate.TrainingInput `json:"input"`
			Webhook     string                  `json:"webhook"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.trainings = append(f.trainings, submittedTraining{
			BaseVersion: r.PathValue("version"),
			Destination: body.Destination,
			Webhook:     body.Webhook,
			Input:       body.Input,
		})
		id := f.nextTrainingId
		f.mu.Unlock()

		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id": %q, "status": "starting"}`, id)
	})

	mux.HandleFunc("GET /v1/trainings/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.getTrainingCalls++
		handler := f.getTraining
		f.mu.Unlock()

		status, body := http.StatusOK, fmt.Sprintf(`{"id": %q, "status": "processing"}`, r.PathValue("id"))
		if handler != nil {
			status, body = handler(r.PathValue("id"))
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})

	mux.HandleFunc("POST /v1/trainings/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.canceled = append(f.canceled, r.PathValue("id"))
		f.mu.Unlock()
		fmt.Fprintf(w, `{"id": %q, "status": "canceled"}`, r.PathValue("id"))
	})

	mux.HandleFunc("POST /v1/predictions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "pred-1", "status": "starting"}`)
	})

	mux.HandleFunc("GET /v1/predictions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		handler := f.getPrediction
		f.mu.Unlock()

		status, body := http.StatusOK, fmt.Sprintf(`{"id": %q, "status": "processing"}`, r.PathValue("id"))
		if handler != nil {
			status, body = handler(r.PathValue("id"))
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProvider) client() *replicate.Client {
	return replicate.NewClient(f.srv.URL, "test-token", "acme")
}

func (f *fakeProvider) submitted() []submittedTraining {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submittedTraining(nil), f.trainings...)
}

func newTestService(db *gorm.DB, provider *replicate.Client, cfg training.Config) *training.Service {
	if cfg.RegisterDelay == 0 {
		cfg.RegisterDelay = time.Millisecond
	}
	if cfg.BaseModelVersion == "" {
		cfg.BaseModelVersion = "base-model-v1"
	}
	return training.NewService(db, nil, provider, cfg)
}
