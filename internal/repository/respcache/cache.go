// Package respcache caches rendered metadata responses in a key-value store.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dashboard-api/internal/db"
)

const cacheKeyPrefix = "dashboard:resp:"

// DefaultTTL is how long a rendered response is served from cache.
const DefaultTTL = 60 * time.Second

// store is the consumer interface for the response cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache is a read-through response cache. A nil *Cache always loads.
type Cache struct {
	store      store
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a response cache.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(s store, ttl time.Duration, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: s, ttl: ttl, cacheTotal: cacheTotal, logger: logger}
}

// Key derives the cache key of a response from what it depends on.
func Key(kind, id, apiURL string) string {
	h := sha256.New()
	for _, part := range []string{kind, id, apiURL} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return cacheKeyPrefix + kind + ":" + hex.EncodeToString(h.Sum(nil))
}

// GetOrLoad returns the cached response under key, or calls load and caches
// its result. hit reports whether the response came from the cache.
// Cache failures are logged and never fail the request.
func (c *Cache) GetOrLoad(
	ctx context.Context, key string, load func(ctx context.Context) ([]byte, error),
) (data []byte, hit bool, err error) {
	if c == nil {
		data, err = load(ctx)
		return data, false, err
	}

	if cached, ok := c.get(ctx, key); ok {
		c.incCache("hit")
		return cached, true, nil
	}
	c.incCache("miss")

	data, err = load(ctx)
	if err != nil {
		return nil, false, err
	}
	c.put(ctx, key, data)
	return data, false, nil
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("response cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (c *Cache) put(ctx context.Context, key string, data []byte) {
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("response cache put failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}
