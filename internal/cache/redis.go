package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ GroupCache[int] = (*RedisCache[int])(nil)

// RedisCache keeps each group in one Redis hash so a group is dropped with a
// single DEL. Values are JSON encoded. The TTL applies to the whole group and
// is refreshed on every Set.
type RedisCache[T any] struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisCache[T any](rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisCache[T] {
	return &RedisCache[T]{rdb: rdb, prefix: strings.Trim(prefix, ":"), ttl: ttl}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (c *RedisCache[T]) key(group string) string {
	return c.prefix + ":" + group
}

func (c *RedisCache[T]) Get(ctx context.Context, group, field string) (T, bool, error) {
	var zero T
	raw, err := c.rdb.HGet(ctx, c.key(group), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis hget: %w", err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("decode cached value: %w", err)
	}
	return v, true, nil
}

func (c *RedisCache[T]) Set(ctx context.Context, group, field string, data T) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cached value: %w", err)
	}
	key := c.key(group)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, field, raw)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (c *RedisCache[T]) DeleteGroup(ctx context.Context, group string) error {
	if err := c.rdb.Del(ctx, c.key(group)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
