// Package storage persists uploaded audio blobs. Metadata lives in the
// repository; this layer only moves bytes.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrBlobNotFound is returned when an audio ref no longer resolves.
var ErrBlobNotFound = errors.New("audio blob not found")

// BlobStore saves and retrieves raw audio. Save returns an opaque ref that is
// stored on the recording row and passed back to Open/Delete.
type BlobStore interface {
	Save(ctx context.Context, id, filename string, r io.Reader, size int64) (ref string, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}
