package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// After a Redis failure checks stay on the in-process window for this long
// before Redis is tried again.
const redisRetryCooldown = 30 * time.Second

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// Manager routes limit checks to Redis when configured and healthy, and to
// the in-process window otherwise.
type Manager struct {
	cfg    SettingsConfig
	nowFn  func() time.Time
	memory *MemoryLimiter
	redis  *RedisLimiter

	mu        sync.Mutex
	downUntil time.Time
}

// NewManager builds a Manager from the settings snapshot. nowFn and
// newClient default to the clock and go-redis when nil.
func NewManager(cfg SettingsConfig, nowFn func() time.Time, newClient RedisClientFactory) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	if newClient == nil {
		newClient = redis.NewClient
	}

	m := &Manager{cfg: cfg, nowFn: nowFn, memory: NewMemoryLimiter()}
	if addr := strings.TrimSpace(cfg.RedisAddr); cfg.RedisEnabled && addr != "" {
		client := newClient(&redis.Options{
			Addr:     addr,
			Password: strings.TrimSpace(cfg.RedisPassword),
			DB:       cfg.RedisDB,
		})
		m.redis = NewRedisLimiter(client, cfg.RedisPrefix)
	}
	return m
}

// Allow checks one hit against the key. A Redis error falls back to the
// in-process window and opens a cooldown before Redis is retried.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}

	now := m.nowFn()
	if m.redisReady(now) {
		result, errAllow := m.redis.Allow(ctx, key, limit, now)
		if errAllow == nil {
			return result, nil
		}
		m.markRedisDown(errAllow, now)
	}
	return m.memory.Allow(key, limit, now), nil
}

func (m *Manager) redisReady(now time.Time) bool {
	if m.redis == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.downUntil.IsZero() {
		return true
	}
	if now.Before(m.downUntil) {
		return false
	}
	m.downUntil = time.Time{}
	return true
}

func (m *Manager) markRedisDown(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.downUntil.IsZero() && now.Before(m.downUntil) {
		return
	}
	m.downUntil = now.Add(redisRetryCooldown)
	log.WithError(err).Warn("rate limit: redis unavailable, using in-process window")
}
