package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps session blobs in Redis. Entries expire after baseTTL
// plus up to five minutes of jitter so idle anonymous carts age out without
// expiring in bulk.
type RedisStorage struct {
	client  *redis.Client
	prefix  string
	baseTTL time.Duration
}

func NewRedisStorage(client *redis.Client, baseTTL time.Duration) *RedisStorage {
	return &RedisStorage{
		client:  client,
		prefix:  "cartsync",
		baseTTL: baseTTL,
	}
}

func (r *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (r *RedisStorage) Set(ctx context.Context, key string, value []byte) error {
	var ttl time.Duration
	if r.baseTTL > 0 {
		ttl = r.baseTTL + time.Duration(rand.Intn(5))*time.Minute
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStorage) key(k string) string {
	return fmt.Sprintf("%s:%s", r.prefix, k)
}
