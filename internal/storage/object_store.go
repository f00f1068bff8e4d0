package storage

import (
	"context"
	"io"
)

// ObjectStore holds uploaded model artifacts. Implementations are bound to a
// single backing bucket (or directory); keys are paths within it.
type ObjectStore interface {
	// CreateBucket ensures the backing bucket exists. Idempotent.
	CreateBucket(ctx context.Context) error

	PutObject(ctx context.Context, key string, data io.Reader) error

	GetObject(ctx context.Context, key string) ([]byte, error)

	// DeleteObjects removes every object under the given prefix.
	DeleteObjects(ctx context.Context, prefix string) error

	// Location is the externally addressable form of a key, recorded on the
	// artifact and handed to the hosting provider.
	Location(key string) string
}
