package training

import (
	"time"

	"visiona-backend/internal/replicate"
	"visiona-backend/internal/storage"

	"gorm.io/gorm"
)

const (
	// MinTrainingPhotos is the minimum number of photos that must both
	// resolve to the caller and download successfully before a training is
	// submitted.
	MinTrainingPhotos = 5

	downloadWorkers = 6
	downloadTimeout = 30 * time.Second

	archiveURLExpiry = time.Hour

	// A model stuck in PROCESSING past stallThreshold is flagged as likely
	// stuck; past failTimeout it is force-failed.
	stallThreshold = 90 * time.Minute
	failTimeout    = 24 * time.Hour
)

type Config struct {
	PhotoBucket   string
	ArchiveBucket string

	// BaseModelVersion is the provider version the fine-tune starts from.
	BaseModelVersion string

	// PublicBaseURL, when set to a publicly reachable https URL, is used to
	// register webhook callbacks with the provider.
	PublicBaseURL string

	// RegisterDelay is the wait between destination-model registration and
	// training submission, giving the provider time to propagate the new
	// model. Injectable so tests do not sleep.
	RegisterDelay time.Duration
}

type Service struct {
	db       *gorm.DB
	store    storage.ObjectStore
	provider *replicate.Client
	cfg      Config
}

func NewService(db *gorm.DB, store storage.ObjectStore, provider *replicate.Client, cfg Config) *Service {
	if cfg.RegisterDelay == 0 {
		cfg.RegisterDelay = 3 * time.Second
	}
	return &Service{db: db, store: store, provider: provider, cfg: cfg}
}
