package config

import (
	"fmt"

	"arcane-scribe/internal/storage"

	"go.mongodb.org/mongo-driver/mongo"
)

// NewObjectStore opens the object store selected by OBJECT_STORE.
func NewObjectStore(cfg *Config, db *mongo.Database) (storage.ObjectStore, error) {
	switch cfg.ObjectStore {
	case "local":
		return storage.NewLocalStore(cfg.FileStorageDir)
	case "gridfs", "":
		return storage.NewGridFSStore(db, cfg.GridFSBucket)
	default:
		return nil, fmt.Errorf("unknown object store %q", cfg.ObjectStore)
	}
}
