// Package answercache deduplicates generation calls by caching answers under
// a hash of the tenant, the query text and the generation flag.
package answercache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"arcane-scribe/internal/telemetry"
	"arcane-scribe/models"
)

// DefaultTTL is how long a generated answer stays valid.
const DefaultTTL = time.Hour

// Store is the backing key/value store.
type Store interface {
	// Get returns nil and no error when the key is absent.
	Get(ctx context.Context, key string) (*models.CachedAnswer, error)
	Put(ctx context.Context, key string, entry *models.CachedAnswer, ttl time.Duration) error
}

// Cache wraps a Store with fail-open reads and best-effort writes.
type Cache struct {
	store   Store
	now     func() time.Time
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

func New(store Store, clock func() time.Time, logger *slog.Logger, metrics *telemetry.Metrics) *Cache {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, now: clock, logger: logger, metrics: metrics}
}

// Key derives the cache key. Generation parameters, conversational style
// and retrieval fan-out are not part of the key.
func Key(tenantKey, queryText string, invokeGeneration bool) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%s-%t", tenantKey, queryText, invokeGeneration)))
	return hex.EncodeToString(sum[:])
}

// Lookup returns a cached answer that has not expired. Store errors count as a miss.
func (c *Cache) Lookup(ctx context.Context, tenantKey, queryText string, invokeGeneration bool) (*models.CachedAnswer, bool) {
	key := Key(tenantKey, queryText, invokeGeneration)

	entry, err := c.store.Get(ctx, key)
	if err != nil {
		c.metrics.RecordAnswerCache("error")
		c.logger.Warn("answer cache lookup failed, continuing without cache",
			"tenant_key", tenantKey, "query", queryText, "error", err)
		return nil, false
	}
	if entry == nil {
		c.metrics.RecordAnswerCache("miss")
		return nil, false
	}
	if !c.now().Before(time.Unix(entry.TTL, 0)) {
		c.metrics.RecordAnswerCache("expired")
		c.logger.Debug("answer cache entry expired", "tenant_key", tenantKey, "query_hash", key)
		return nil, false
	}

	c.metrics.RecordAnswerCache("hit")
	return entry, true
}

// Store writes entry with an absolute expiry of now+ttl. Failures are logged and dropped.
func (c *Cache) Store(ctx context.Context, tenantKey, queryText string, invokeGeneration bool, entry models.CachedAnswer, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := Key(tenantKey, queryText, invokeGeneration)
	now := c.now()

	entry.QueryHash = key
	entry.QueryText = queryText
	entry.Timestamp = now.UTC().Format(time.RFC3339)
	entry.TTL = expiresAt(now, ttl)

	if err := c.store.Put(ctx, key, &entry, ttl); err != nil {
		c.metrics.RecordAnswerCache("store_error")
		c.logger.Error("failed to write answer cache",
			"tenant_key", tenantKey, "query", queryText, "error", err)
		return
	}
	c.metrics.RecordAnswerCache("store")
}

// expiresAt rounds now+ttl up to a whole second so an entry never lives
// shorter than ttl.
func expiresAt(now time.Time, ttl time.Duration) int64 {
	exp := now.Add(ttl)
	secs := exp.Unix()
	if exp.Nanosecond() > 0 {
		secs++
	}
	return secs
}
