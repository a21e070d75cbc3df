package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrInvalidKey     = errors.New("invalid object key")
)

type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// PutOptions describes an archived object. Metadata is stored as user
// metadata next to the object and must use ASCII keys.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore is the write side of the audit archive.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Check(ctx context.Context) error
}
