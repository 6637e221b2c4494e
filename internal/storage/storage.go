package storage

import (
	"context"
	"io"
)

// Store is path-addressed blob storage for raw inputs and generated
// artifacts. Keys are bucket-relative string paths.
type Store interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
