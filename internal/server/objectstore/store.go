// Package objectstore is the key/value blob layer under the drive store:
// metadata records and file content both live here, addressed by keys from
// Keys. Backends are S3 (aws-sdk-go-v2) and an in-process map.
package objectstore

import (
	"context"
	"time"
)

// ObjectInfo describes a stored object. Checksum is lowercase hex SHA-256.
type ObjectInfo struct {
	Key      string
	Size     int64
	Checksum string
}

// Store is the minimal object store contract. Missing keys are reported as
// common.ErrorNotFound. List returns keys under prefix in lexical order.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ConditionalStore is implemented by backends that can compare-and-swap a
// single key. A revision of "" means the key must not exist yet; a failed
// condition is reported as common.ErrPreconditionFailed.
type ConditionalStore interface {
	Store
	GetWithRevision(ctx context.Context, key string) ([]byte, string, error)
	PutIfRevision(ctx context.Context, key string, data []byte, revision string) error
}

// Presigner issues URLs that let a client move bytes for one key directly,
// without passing through the service.
type Presigner interface {
	PresignPut(ctx context.Context, key string, size int64, checksum string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignDelete(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Backend is a store that can also presign transfers.
type Backend interface {
	Store
	Presigner
}
