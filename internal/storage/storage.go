package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// MetaFingerprint is the object metadata key under which the content
// hash of an upload is stored, so later runs can detect unchanged
// content without re-downloading.
const MetaFingerprint = "docvault-sha256"

// ErrNotFound is returned by Head for keys that do not exist.
var ErrNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	Fingerprint  string // sha256 hex from object metadata, empty if absent
	LastModified time.Time
}

type Provider interface {
	Upload(ctx context.Context, key string, data io.Reader, metadata map[string]string) error

	// List returns every object under prefix. Implementations must page
	// through the complete listing; a listing that cannot be completed
	// is an error, never a silent truncation.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Head fetches a single object's metadata, including its stored
	// fingerprint.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	Delete(ctx context.Context, key string) error
}
