package answercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"arcane-scribe/models"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "answer:"

// RedisStore keeps entries as JSON strings. Redis expiry removes entries
// physically; validity is still checked against the entry's ttl on read.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*models.CachedAnswer, error) {
	raw, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry models.CachedAnswer
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cached answer: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, entry *models.CachedAnswer, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, redisKeyPrefix+key, raw, ttl).Err()
}
