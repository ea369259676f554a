package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dukalink/backend/internal/domain"
)

type RedisTransferCountsCache struct {
	client *redis.Client
}

func NewRedisTransferCountsCache(addr string, password string, db int) *RedisTransferCountsCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisTransferCountsCache{client: client}
}

func (c *RedisTransferCountsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTransferCountsCache) Close() error {
	return c.client.Close()
}

func cacheKey(storeID string) string {
	return "transfer-counts:" + storeID
}

func (c *RedisTransferCountsCache) Get(ctx context.Context, storeID string) (*domain.TransferCounts, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(storeID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var counts domain.TransferCounts
	if err := json.Unmarshal([]byte(val), &counts); err != nil {
		return nil, false, err
	}
	return &counts, true, nil
}

func (c *RedisTransferCountsCache) Set(ctx context.Context, storeID string, counts domain.TransferCounts, ttl time.Duration) error {
	payload, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(storeID), payload, ttl).Err()
}

func (c *RedisTransferCountsCache) Invalidate(ctx context.Context, storeIDs ...string) error {
	if len(storeIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(storeIDs))
	for _, storeID := range storeIDs {
		keys = append(keys, cacheKey(storeID))
	}
	return c.client.Del(ctx, keys...).Err()
}
