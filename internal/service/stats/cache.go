package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ironwill/internal/model"
)

// RedisCache stores snapshots as JSON under stats:<user_id>.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(userID string) string {
	return fmt.Sprintf("stats:%s", userID)
}

func (c *RedisCache) Get(ctx context.Context, userID string) (model.Statistics, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Stats cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
		return model.Statistics{}, false
	}
	var s model.Statistics
	if err := json.Unmarshal(raw, &s); err != nil {
		c.logger.Warn("Stats cache entry corrupt", zap.String("user_id", userID), zap.Error(err))
		return model.Statistics{}, false
	}
	return s, true
}

func (c *RedisCache) Set(ctx context.Context, s model.Statistics) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(s.UserID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Stats cache write failed", zap.String("user_id", s.UserID), zap.Error(err))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) {
	if err := c.rdb.Del(ctx, cacheKey(userID)).Err(); err != nil {
		c.logger.Warn("Stats cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}
