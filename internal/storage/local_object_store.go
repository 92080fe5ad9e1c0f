package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// LocalObjectStore keeps objects under baseDir/bucket/key. It serves tests
// and single-machine deployments; URLs are formed against baseURL, which in
// tests points at an httptest file server over baseDir.
type LocalObjectStore struct {
	baseDir string
	baseURL string
}

var _ ObjectStore = (*LocalObjectStore)(nil)

func NewLocalObjectStore(dir, baseURL string) (*LocalObjectStore, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}

	return &LocalObjectStore{baseDir: baseDir, baseURL: baseURL}, nil
}

func (s *LocalObjectStore) fullpath(bucket, key string) string {
	return filepath.Join(s.baseDir, bucket, filepath.FromSlash(key))
}

func (s *LocalObjectStore) CreateBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(s.baseDir, bucket), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create bucket dir %s: %w", bucket, err)
	}
	return nil
}

func (s *LocalObjectStore) PutObject(ctx context.Context, bucket, key string, data io.Reader, opts PutOptions) error {
	path := s.fullpath(bucket, key)

	if opts.NoOverwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectExists)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", bucket, key, err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s/%s: %w", bucket, key, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		return fmt.Errorf("failed to write file %s/%s: %w", bucket, key, err)
	}

	return nil
}

func (s *LocalObjectStore) ObjectURL(ctx context.Context, bucket, key string) (string, error) {
	if _, err := os.Stat(s.fullpath(bucket, key)); err != nil {
		return "", fmt.Errorf("object %s/%s not found: %w", bucket, key, err)
	}
	u, err := url.JoinPath(s.baseURL, bucket, key)
	if err != nil {
		return "", fmt.Errorf("failed to build url for %s/%s: %w", bucket, key, err)
	}
	return u, nil
}

func (s *LocalObjectStore) PresignGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	// No signing locally; the plain URL stands in for a signed one.
	return s.ObjectURL(ctx, bucket, key)
}

func (s *LocalObjectStore) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := os.Remove(s.fullpath(bucket, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}
