package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"retailpos/backend/internal/domain"
)

const settingsKeyPrefix = "retailpos:settings:"

type RedisSettingsCache struct {
	client *redis.Client
}

func NewRedisSettingsCache(addr string, password string, db int) *RedisSettingsCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSettingsCache{client: client}
}

func (c *RedisSettingsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSettingsCache) Close() error {
	return c.client.Close()
}

func settingsKey(tenantID string) string {
	return settingsKeyPrefix + tenantID
}

func (c *RedisSettingsCache) Get(ctx context.Context, tenantID string) (*domain.Settings, bool, error) {
	val, err := c.client.Get(ctx, settingsKey(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var settings domain.Settings
	if err := json.Unmarshal(val, &settings); err != nil {
		return nil, false, err
	}
	return &settings, true, nil
}

func (c *RedisSettingsCache) Set(ctx context.Context, tenantID string, value *domain.Settings, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, settingsKey(tenantID), payload, ttl).Err()
}

func (c *RedisSettingsCache) Delete(ctx context.Context, tenantID string) error {
	return c.client.Del(ctx, settingsKey(tenantID)).Err()
}
