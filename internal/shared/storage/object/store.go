package object

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Open when the key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore defines the contract for storing and retrieving binary objects
// under hierarchical keys such as projects/{projectId}/artifacts/{analysisId}/audio-1.mp3.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (sizeBytes int64, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// UploadPresigner is implemented by stores that can hand out direct upload URLs.
type UploadPresigner interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// DefaultPresignTTL matches the download link lifetime exposed to clients.
const DefaultPresignTTL = time.Hour
