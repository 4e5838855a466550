// Package storage provides byte-oriented object storage used by the snapshot
// registry. Objects are written once and never overwritten, which lets the
// registry use PutIfAbsent as its atomic append primitive.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUploadFailed       = errors.New("upload failed")
	ErrDownloadFailed     = errors.New("download failed")
	ErrInvalidKey         = errors.New("invalid object key")
)

// ObjectStore abstracts create-only object storage.
// Implementations include S3 and the local filesystem.
type ObjectStore interface {
	// PutIfAbsent stores data under key only if no object exists there yet.
	// It returns ErrPreconditionFailed when the key is taken. Readers never
	// observe a partially written object.
	PutIfAbsent(ctx context.Context, key string, data []byte) error

	// Get returns the content of the object at key, or ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks if an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all object keys under prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ValidateKey checks that key is a relative, slash-separated path that stays
// inside the store.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if clean := path.Clean(key); clean != key || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
