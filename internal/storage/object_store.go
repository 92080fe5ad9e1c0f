package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectExists is returned by PutObject when NoOverwrite is set and the
// key already holds an object.
var ErrObjectExists = errors.New("object already exists")

type PutOptions struct {
	ContentType string
	NoOverwrite bool
}

type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader, opts PutOptions) error

	// ObjectURL returns a fetchable (public or signed) URL for an existing
	// object.
	ObjectURL(ctx context.Context, bucket, key string) (string, error)

	// PresignGetObject returns a time-limited signed URL for an object.
	PresignGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)

	DeleteObject(ctx context.Context, bucket, key string) error
}
