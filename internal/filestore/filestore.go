// Package filestore persists raw uploaded documents.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/formahead/docproc/internal/config"
)

var (
	// ErrTooLarge is returned when an upload exceeds the configured
	// size ceiling.
	ErrTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrNotFound is returned when no object exists under the key.
	ErrNotFound = errors.New("file not found")
)

// Storage stores and retrieves raw document bytes by key. Keys are
// opaque to the backend; callers are expected to use generated names.
type Storage interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// New builds the backend selected by configuration.
func New(cfg *config.Config) (Storage, error) {
	switch cfg.Storage.Type {
	case "local":
		return NewLocalStorage(cfg.Storage.Directory, cfg.Storage.MaxFileSize)
	case "s3":
		return NewS3Storage(S3Options{
			Endpoint:    cfg.Storage.Endpoint,
			Bucket:      cfg.Storage.Bucket,
			AccessKey:   cfg.Storage.AccessKey,
			SecretKey:   cfg.Storage.SecretKey,
			UseSSL:      cfg.Storage.UseSSL,
			MaxFileSize: cfg.Storage.MaxFileSize,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func checkSize(size, maxSize int64) error {
	if maxSize > 0 && size > maxSize {
		return ErrTooLarge
	}
	return nil
}
