package storage

import (
	"context"
	"io"
)

// Store persists recording artifacts durably and returns a stable URL for
// the stored object.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (url string, err error)
}
