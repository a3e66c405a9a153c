package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/model"
)

// RedisResultCache stores result projections as JSON strings.
type RedisResultCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisResultCache(rdb *redis.Client, ttl time.Duration) *RedisResultCache {
	return &RedisResultCache{rdb: rdb, ttl: ttl}
}

func (c *RedisResultCache) Get(ctx context.Context, attemptID uuid.UUID) (*model.Result, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.AttemptResultKey(attemptID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var res model.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, nil
	}
	return &res, nil
}

func (c *RedisResultCache) Set(ctx context.Context, res *model.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, config.CacheKey.AttemptResultKey(res.AttemptID.String()), data, c.ttl).Err()
}

func (c *RedisResultCache) Delete(ctx context.Context, attemptID uuid.UUID) error {
	return c.rdb.Del(ctx, config.CacheKey.AttemptResultKey(attemptID.String())).Err()
}
