package gate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateCounter is the minimal counter surface the gate needs. The increment
// must be atomic increment-and-read; read-then-write would double-admit
// under concurrent router calls for the same tenant.
type RateCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RedisCounter backs the rate window with Redis INCR.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (r *RedisCounter) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *RedisCounter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

// NewRedisClient constructs the shared Redis client from config values.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

var _ RateCounter = (*RedisCounter)(nil)
