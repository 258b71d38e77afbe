package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the object storage operations used to archive
// campaign artifacts. It stays small so MinIO or another S3 implementation
// can back it.
type ObjectStorage interface {
	// PutObject uploads size bytes from reader. A negative size streams
	// until EOF.
	PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, size int64, contentType string) error

	// GetObject opens a reader for an object.
	// Caller must close the returned reader.
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error)

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)

	// ListObjects streams every object below prefix.
	ListObjects(ctx context.Context, bucket, prefix string) <-chan ObjectInfo

	RemoveObjects(ctx context.Context, bucket string, keys []string) error
}

// ObjectStat contains object metadata.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}

// ObjectInfo is one listed object, or the error that ended the listing.
type ObjectInfo struct {
	Key       string
	SizeBytes int64
	Err       error
}
