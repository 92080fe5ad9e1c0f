package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"visiona-backend/cmd"
	"visiona-backend/internal/api"
	"visiona-backend/internal/database"
	"visiona-backend/internal/messaging"
	"visiona-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Single-process development mode: api and worker share an in-memory queue,
// and objects live on local disk served from this same process. Only the
// database and provider settings are required.
type localConfig struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty,required"`
	DataDir     string `env:"DATA_DIR" envDefault:"./visiona-data"`

	PhotoBucket   string `env:"PHOTO_BUCKET" envDefault:"photos"`
	ArchiveBucket string `env:"ARCHIVE_BUCKET" envDefault:"training-archives"`

	ReplicateBaseURL string `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com"`
	ReplicateToken   string `env:"REPLICATE_API_TOKEN,notEmpty,required"`
	ReplicateOwner   string `env:"REPLICATE_OWNER,notEmpty,required"`
	BaseModelVersion string `env:"BASE_MODEL_VERSION,notEmpty,required"`

	APIPort string `env:"API_PORT" envDefault:"8001"`
}

func main() {
	log.Println("Starting local single-process server...")

	cmd.LoadEnvFile()

	var cfg localConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		log.Fatalf("invalid data dir: %v", err)
	}
	store, err := storage.NewLocalObjectStore(dataDir, "http://localhost:"+cfg.APIPort+"/files")
	if err != nil {
		log.Fatalf("Failed to create local object store: %v", err)
	}

	shared := cmd.Config{
		PhotoBucket:      cfg.PhotoBucket,
		ArchiveBucket:    cfg.ArchiveBucket,
		ReplicateBaseURL: cfg.ReplicateBaseURL,
		ReplicateToken:   cfg.ReplicateToken,
		ReplicateOwner:   cfg.ReplicateOwner,
		BaseModelVersion: cfg.BaseModelVersion,
	}
	trainer := shared.Trainer(db, store)

	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go messaging.NewWorker(trainer, queue, queue).Run(ctx)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(dataDir))))

	apiHandler := api.NewBackendService(db, store, trainer, queue, cfg.PhotoBucket)
	apiHandler.AddRoutes(r)

	server := &http.Server{Addr: ":" + cfg.APIPort, Handler: r}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("Local server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}
}
