package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/config"
	"github.com/learnhub/rooms-service/internal/metrics"
)

// NewRedisClient connects to Redis, retrying with exponential backoff so a
// slow cache container does not kill the service at boot.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	backoff := 500 * time.Millisecond
	const maxAttempts = 6
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err = client.Ping(pingCtx).Result()
		cancel()
		if err == nil {
			return client, nil
		}
		logger.Warn("redis ping failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("failed to connect to Redis: %w", err)
}

// CacheService is a cache-aside wrapper over Redis. A cache outage degrades
// to direct store reads; it never fails a request.
type CacheService struct {
	client *redis.Client
	logger *zap.Logger
}

func NewCacheService(client *redis.Client, logger *zap.Logger) *CacheService {
	return &CacheService{client: client, logger: logger}
}

// Get unmarshals the cached value into dest and reports whether it was a hit.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	defer observeCacheOp("get", time.Now())

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// A corrupt entry counts as a miss; it will be overwritten.
		metrics.CacheMisses.Inc()
		return false, nil
	}
	metrics.CacheHits.Inc()
	return true, nil
}

func (c *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	defer observeCacheOp("set", time.Now())

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *CacheService) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	defer observeCacheOp("delete", time.Now())

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Invalidate removes every key matching the pattern. Used on writes to
// entities with list-style cache keys.
func (c *CacheService) Invalidate(ctx context.Context, pattern string) error {
	defer observeCacheOp("invalidate", time.Now())

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("cache invalidate %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache invalidate %s: %w", pattern, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// GetOrSet is the cache-aside idiom: on a miss the fetch function is called
// and its result cached. On any cache error the fetch result is returned
// directly without caching.
func (c *CacheService) GetOrSet(ctx context.Context, key string, ttl time.Duration, dest interface{}, fetch func(context.Context) (interface{}, error)) error {
	hit, err := c.Get(ctx, key, dest)
	if err != nil {
		c.logger.Warn("cache read failed, falling through to fetch",
			zap.String("key", key), zap.Error(err))
	}
	if hit {
		return nil
	}

	value, err := fetch(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache getOrSet %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache getOrSet %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("cache write failed",
			zap.String("key", key), zap.Error(err))
	}
	return nil
}

func observeCacheOp(op string, start time.Time) {
	metrics.CacheOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
