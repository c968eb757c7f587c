package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/identity/metrics"
	"rollcall/internal/identity/models"
	"rollcall/internal/identity/ports"
)

const (
	keyPrefix       = "legacy:person:"
	defaultCacheTTL = 5 * time.Minute
)

// Cache puts a Redis read-through cache in front of a LegacySource. Redis
// errors fall back to the source; they never fail a lookup.
type Cache struct {
	source  ports.LegacySource
	rdb     redis.Cmdable
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type CacheOption func(*Cache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

func NewCache(source ports.LegacySource, rdb redis.Cmdable, opts ...CacheOption) *Cache {
	c := &Cache{source: source, rdb: rdb, ttl: defaultCacheTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key is the Redis key holding the snapshot for legacyID.
func Key(legacyID int64) string {
	return keyPrefix + strconv.FormatInt(legacyID, 10)
}

func (c *Cache) GetPerson(ctx context.Context, legacyID int64) (*models.RemotePerson, error) {
	raw, err := c.rdb.Get(ctx, Key(legacyID)).Bytes()
	switch {
	case err == nil:
		var dto personDTO
		jsonErr := json.Unmarshal(raw, &dto)
		if jsonErr == nil {
			c.metrics.IncLegacyCache(true)
			return dto.toRemote(), nil
		}
		c.warn(ctx, "discarding unreadable legacy snapshot", legacyID, jsonErr)
	case !errors.Is(err, redis.Nil):
		c.warn(ctx, "legacy snapshot cache read failed", legacyID, err)
	}
	c.metrics.IncLegacyCache(false)

	remote, err := c.source.GetPerson(ctx, legacyID)
	if err != nil || remote == nil {
		return remote, err
	}
	if raw, err := json.Marshal(fromRemote(remote)); err == nil {
		if err := c.rdb.Set(ctx, Key(legacyID), raw, c.ttl).Err(); err != nil {
			c.warn(ctx, "legacy snapshot cache write failed", legacyID, err)
		}
	}
	return remote, nil
}

// ReplacePerson forwards to the source and drops both cached snapshots.
func (c *Cache) ReplacePerson(ctx context.Context, oldLegacyID, newLegacyID int64) error {
	if err := c.source.ReplacePerson(ctx, oldLegacyID, newLegacyID); err != nil {
		return err
	}
	return c.rdb.Del(ctx, Key(oldLegacyID), Key(newLegacyID)).Err()
}

// Invalidate drops the cached snapshot for legacyID.
func (c *Cache) Invalidate(ctx context.Context, legacyID int64) error {
	return c.rdb.Del(ctx, Key(legacyID)).Err()
}

func (c *Cache) warn(ctx context.Context, msg string, legacyID int64, err error) {
	if c.logger != nil {
		c.logger.WarnContext(ctx, msg, "legacy_id", legacyID, "error", err)
	}
}
