package ratelimit

import (
	"strings"

	"github.com/smswire/concierge/internal/config"
)

// SettingsConfig captures the limiter settings derived from app config.
type SettingsConfig struct {
	Limit         int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// DefaultRedisPrefix namespaces limiter keys in a shared Redis.
const DefaultRedisPrefix = "rl"

// SettingsFromConfig derives the limiter settings snapshot. Redis is used
// whenever an address is configured.
func SettingsFromConfig(cfg config.Config) SettingsConfig {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	limit := cfg.WebhookRatePerSecond
	if limit < 0 {
		limit = 0
	}
	return SettingsConfig{
		Limit:         limit,
		RedisEnabled:  addr != "",
		RedisAddr:     addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   DefaultRedisPrefix,
	}
}
