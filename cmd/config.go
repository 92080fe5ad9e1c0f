package cmd

import (
	"visiona-backend/internal/replicate"
	"visiona-backend/internal/storage"
	"visiona-backend/internal/training"

	"gorm.io/gorm"
)

// Config holds the environment shared by the api and worker processes.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`

	PhotoBucket   string `env:"PHOTO_BUCKET" envDefault:"photos"`
	ArchiveBucket string `env:"ARCHIVE_BUCKET" envDefault:"training-archives"`

	ReplicateBaseURL string `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com"`
	ReplicateToken   string `env:"REPLICATE_API_TOKEN,notEmpty,required"`
	ReplicateOwner   string `env:"REPLICATE_OWNER,notEmpty,required"`
	BaseModelVersion string `env:"BASE_MODEL_VERSION,notEmpty,required"`

	// PublicBaseURL must be a public https URL for webhook callbacks to be
	// registered; leave empty to rely on polling only.
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	APIPort string `env:"API_PORT" envDefault:"8001"`
}

func (cfg *Config) ObjectStore() (storage.ObjectStore, error) {
	return storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
}

func (cfg *Config) Trainer(db *gorm.DB, store storage.ObjectStore) *training.Service {
	provider := replicate.NewClient(cfg.ReplicateBaseURL, cfg.ReplicateToken, cfg.ReplicateOwner)
	return training.NewService(db, store, provider, training.Config{
		PhotoBucket:      cfg.PhotoBucket,
		ArchiveBucket:    cfg.ArchiveBucket,
		BaseModelVersion: cfg.BaseModelVersion,
		PublicBaseURL:    cfg.PublicBaseURL,
	})
}
