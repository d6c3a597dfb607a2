// Package blob provides object storage for original documents and
// per-page OCR result payloads.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound indicates a missing object.
var ErrNotFound = errors.New("object not found")

// Store defines the object store interface.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Remove(ctx context.Context, bucket, key string) error
	Close() error
}
