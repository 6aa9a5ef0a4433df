// Package storage defines the Backend interface for the object store that
// holds the protected script.
//
// Backends register themselves with the factory from an init() function in
// their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// cmd/server blank-imports every backend so that the configured one can be
// selected by name.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is wrapped by backends when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Storage defines the interface for all storage backends
type Storage interface {
	// Upload stores an object and returns its path, size and SHA-256 checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download returns a reader for the object. Callers must close it.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata retrieves object metadata without downloading the object body
	// when the backend kept the checksum at upload time
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)
}

// FilePather is implemented by backends whose objects are plain files, so
// that callers can watch them for changes.
type FilePather interface {
	FilePath(path string) string
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// FileMetadata contains metadata about a stored object
type FileMetadata struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"`
	LastModified time.Time `json:"last_modified"`
}

// ChecksumMetadataKey is the user-metadata key cloud backends store the SHA-256 under.
const ChecksumMetadataKey = "sha256"
