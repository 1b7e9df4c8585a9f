// Package provider defines the hot object storage surface used by the job
// workers: input, result and log objects addressed by bucket and key.
//
// A Provider is bound to a single bucket. Workers that receive the bucket name
// inside a message resolve the matching Provider through a Registry.
// Authentication uses SDK default credential chains - providers should not
// implement custom auth logic.
package provider

import (
	"context"
	"io"
	"time"
)

// Provider is a bucket-scoped hot object store.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Bucket returns the bucket this provider is bound to.
	Bucket() string

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// GetObject opens the object for streaming reads.
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)

	// PutObject creates or replaces an object.
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error

	// DeleteObject removes an object. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// Close releases any resources held by the provider.
	Close() error
}

// ObjectMeta contains metadata for a single object.
type ObjectMeta struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents a local directory tree standing in for buckets.
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
