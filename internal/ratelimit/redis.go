package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window keys outlive their second briefly so late arrivals still count.
const redisWindowTTL = 2 * time.Second

// RedisLimiter keeps the per-second window in Redis so the limit holds
// across replicas.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter wraps a Redis client; prefix namespaces the window keys.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Allow increments the key's window counter and reports whether it stays
// within the limit. INCR and EXPIRE travel in one transaction so a fresh
// window key can never be left without a TTL.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || l == nil || l.client == nil {
		return Result{Allowed: true}, nil
	}

	windowKey := fmt.Sprintf("%s:%d", key, now.Unix())
	if l.prefix != "" {
		windowKey = l.prefix + ":" + windowKey
	}

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, redisWindowTTL)
	if _, errExec := pipe.Exec(ctx); errExec != nil {
		return Result{}, errExec
	}

	count := int(incr.Val())
	if count > limit {
		return Result{}, nil
	}
	return Result{Allowed: true, Remaining: limit - count}, nil
}
