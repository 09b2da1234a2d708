// Package storage holds raw uploads and index artifacts keyed by slash separated paths.
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is a flat key/value blob store.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Download writes the object to localPath, creating parent directories.
	Download(ctx context.Context, key, localPath string) error
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns keys with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// DeletePrefix removes every object under prefix and returns how many were deleted.
func DeletePrefix(ctx context.Context, store ObjectStore, prefix string) (int, error) {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for i, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

func writeLocal(localPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}
