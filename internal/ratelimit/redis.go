package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foodior/apiserver/config"
)

// RedisLimiter is a fixed-window counter shared by every server instance.
// Each window admits floor(rps*window)+burst requests per key.
type RedisLimiter struct {
	client  redis.UniversalClient
	window  time.Duration
	allowed int64
	now     func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, rps float64, burst int, window time.Duration) *RedisLimiter {
	if window < time.Second {
		window = time.Second
	}
	return &RedisLimiter{
		client:  client,
		window:  window,
		allowed: int64(rps*window.Seconds()) + int64(burst),
		now:     time.Now,
	}
}

// NewRedisClient connects to the Redis server in cfg.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	windowSeconds := int64(l.window / time.Second)
	now := l.now().Unix()
	bucket := now / windowSeconds
	redisKey := fmt.Sprintf("rl:%s:%d", key, bucket)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		_ = l.client.Expire(ctx, redisKey, l.window+time.Second).Err()
	}
	if count > l.allowed {
		remaining := (bucket+1)*windowSeconds - now
		return false, time.Duration(remaining) * time.Second, nil
	}
	return true, 0, nil
}

func (l *RedisLimiter) Name() string { return "redis" }
