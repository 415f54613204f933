package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"berezcashier/backend/internal/domain"
)

type RedisAccountCache struct {
	client *redis.Client
}

func NewRedisAccountCache(addr string, password string, db int) *RedisAccountCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisAccountCache{client: client}
}

func (c *RedisAccountCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisAccountCache) Close() error {
	return c.client.Close()
}

func (c *RedisAccountCache) Get(ctx context.Context, key string) (*domain.Account, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var account domain.Account
	if err := json.Unmarshal([]byte(val), &account); err != nil {
		return nil, false, err
	}
	return &account, true, nil
}

func (c *RedisAccountCache) Set(ctx context.Context, key string, value *domain.Account, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}
