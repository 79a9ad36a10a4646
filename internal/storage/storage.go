package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/accountpool/apiserver/config"
	"github.com/google/uuid"
)

// ArchiveContentType is the media type of uploaded account archives.
const ArchiveContentType = "application/gzip"

// ObjectStorage abstracts the bucket used for account archives.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// ArchiveKey returns the object key for an account's archive.
func ArchiveKey(accountUUID uuid.UUID) string {
	return fmt.Sprintf("archives/%s.tar.gz", accountUUID)
}

// Connect builds the configured storage backend. An empty backend name
// disables archive handling and returns nil.
func Connect(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "minio":
		return NewMinioClient(cfg.Minio)
	case "gcs":
		return NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
