// Package limiter holds Redis-backed request throttles.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLimiterUnavailable = errors.New("limiter unavailable")

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Cooldown lets a key act once per window. The first caller inside a window
// claims it with SET NX; everyone else is refused until the key expires.
type Cooldown struct {
	redis  redis.UniversalClient
	prefix string
}

func NewCooldown(client redis.UniversalClient, prefix string) *Cooldown {
	if prefix == "" {
		prefix = "cooldown:"
	}
	return &Cooldown{redis: client, prefix: prefix}
}

func (c *Cooldown) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	ok, err := c.redis.SetNX(ctx, c.prefix+key, 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return ok, nil
}

// Remaining reports how long key stays blocked. Zero means it is free.
func (c *Cooldown) Remaining(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.redis.PTTL(ctx, c.prefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Release frees key before its window ends.
func (c *Cooldown) Release(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return nil
}
