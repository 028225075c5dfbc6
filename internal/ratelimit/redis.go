package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Limiter backed by shared Redis counters, so the attempt
// budget holds across service instances. The counter TTL is set only
// on the first hit in a window, giving the same fixed-window semantics
// as Memory.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	counterKey := r.prefix + ":" + key

	count, err := r.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr %s: %w", counterKey, err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, counterKey, window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: expire %s: %w", counterKey, err)
		}
	}
	return count <= int64(max), nil
}
