package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSStore keeps objects in a MongoDB GridFS bucket, one file per key.
type GridFSStore struct {
	bucket *gridfs.Bucket
}

type gridFile struct {
	ID       primitive.ObjectID `bson:"_id"`
	Filename string             `bson:"filename"`
}

// NewGridFSStore opens the named bucket in db.
func NewGridFSStore(db *mongo.Database, bucketName string) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("failed to open gridfs bucket: %w", err)
	}
	return &GridFSStore{bucket: bucket}, nil
}

func (s *GridFSStore) find(ctx context.Context, filter bson.M) ([]gridFile, error) {
	cursor, err := s.bucket.FindContext(ctx, filter)
	if err != nil {
		return nil, err
	}
	var files []gridFile
	if err := cursor.All(ctx, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// Put uploads a new revision and drops older revisions of the same key.
func (s *GridFSStore) Put(ctx context.Context, key string, data []byte) error {
	id, err := s.bucket.UploadFromStream(key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	old, err := s.find(ctx, bson.M{"filename": key, "_id": bson.M{"$ne": id}})
	if err != nil {
		return fmt.Errorf("list revisions of %s: %w", key, err)
	}
	for _, f := range old {
		if err := s.bucket.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("delete old revision of %s: %w", key, err)
		}
	}
	return nil
}

func (s *GridFSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := s.bucket.DownloadToStreamByName(key, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (s *GridFSStore) Download(ctx context.Context, key, localPath string) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return writeLocal(localPath, data)
}

func (s *GridFSStore) Delete(ctx context.Context, key string) error {
	files, err := s.find(ctx, bson.M{"filename": key})
	if err != nil {
		return fmt.Errorf("find %s: %w", key, err)
	}
	for _, f := range files {
		if err := s.bucket.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

func (s *GridFSStore) List(ctx context.Context, prefix string) ([]string, error) {
	files, err := s.find(ctx, bson.M{"filename": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	seen := make(map[string]struct{}, len(files))
	keys := make([]string, 0, len(files))
	for _, f := range files {
		if _, ok := seen[f.Filename]; ok {
			continue
		}
		seen[f.Filename] = struct{}{}
		keys = append(keys, f.Filename)
	}
	sort.Strings(keys)
	return keys, nil
}
