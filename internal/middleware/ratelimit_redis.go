// ratelimit_redis.go provides a Redis-backed Limiter so that several replicas
// behind a load balancer share one budget per client.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "scriptgate:"

// redisLimiter is the subset of *redis_rate.Limiter used here.
type redisLimiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// RedisRateLimiter implements Limiter with the GCRA algorithm in Redis.
// When Redis cannot be reached the decision falls back to an in-process
// bucket, so an outage degrades to per-replica limits instead of no limits.
type RedisRateLimiter struct {
	limiter  redisLimiter
	limit    redis_rate.Limit
	fallback *RateLimiter
}

// NewRedisRateLimiter creates a limiter backed by client.
func NewRedisRateLimiter(client *redis.Client, config RateLimitConfig) *RedisRateLimiter {
	return newRedisRateLimiter(redis_rate.NewLimiter(client), config)
}

func newRedisRateLimiter(limiter redisLimiter, config RateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: limiter,
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  config.BurstSize,
			Period: time.Minute,
		},
		fallback: NewRateLimiter(config),
	}
}

// Take implements Limiter.
func (rl *RedisRateLimiter) Take(ctx context.Context, key string) (bool, int) {
	res, err := rl.limiter.Allow(ctx, redisKeyPrefix+key, rl.limit)
	if err != nil {
		slog.Warn("redis rate limiter unavailable, using local bucket", "error", err)
		return rl.fallback.Take(ctx, key)
	}
	return res.Allowed > 0, res.Remaining
}

// Limit implements Limiter.
func (rl *RedisRateLimiter) Limit() int {
	return rl.limit.Rate
}

// Stop releases the fallback bucket's cleanup goroutine.
func (rl *RedisRateLimiter) Stop() {
	rl.fallback.Stop()
}
