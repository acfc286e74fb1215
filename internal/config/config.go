package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by Load. Env values override the
// YAML config file.
const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvJWTSecret     = "JWT_SECRET"
	EnvJWTExpiry     = "JWT_EXPIRY"
	EnvTwilioSID     = "TWILIO_ACCOUNT_SID"
	EnvTwilioToken   = "TWILIO_AUTH_TOKEN"
	EnvStripeKey     = "STRIPE_SECRET_KEY"
	EnvStripeWebhook = "STRIPE_WEBHOOK_SECRET"
	EnvLLMBaseURL    = "LLM_BASE_URL"
	EnvLLMAPIKey     = "LLM_API_KEY"
	EnvLLMModel      = "LLM_MODEL"
	EnvEncryptionKey = "ENCRYPTION_KEY"
)

// Defaults applied when the config file and environment omit a value.
const (
	defaultJWTAccessExpiry  = time.Hour
	defaultJWTRefreshExpiry = 30 * 24 * time.Hour
	defaultLLMTimeout       = 30 * time.Second
	defaultLLMMaxTokens     = 150
	defaultLLMTemperature   = 0.7
	defaultQueueName        = "incoming"
	defaultWebhookRate      = 5
	defaultSMSRate          = 0.0075
	defaultNumberRate       = 1.0
	defaultMarkupPercent    = 20.0
)

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret        string        `yaml:"secret"`
	AccessExpiry  time.Duration `yaml:"access-expiry"`
	RefreshExpiry time.Duration `yaml:"refresh-expiry"`
}

// RedisConfig holds queue and rate-limit backend settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Queue    string `yaml:"queue"`
}

// TwilioConfig holds master-account telephony settings.
type TwilioConfig struct {
	AccountSID        string `yaml:"account-sid"`
	AuthToken         string `yaml:"auth-token"`
	ValidateSignature *bool  `yaml:"validate-signature"`
	WebhookBaseURL    string `yaml:"webhook-base-url"`
}

// StripeConfig holds payment-processor settings.
type StripeConfig struct {
	SecretKey     string `yaml:"secret-key"`
	WebhookSecret string `yaml:"webhook-secret"`
}

// LLMConfig holds generative-backend settings.
type LLMConfig struct {
	BaseURL     string        `yaml:"base-url"`
	APIKey      string        `yaml:"api-key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max-tokens"`
	Temperature float64       `yaml:"temperature"`
}

// BillingRates holds the per-unit rates used for usage billing.
type BillingRates struct {
	SMSRate       float64 `yaml:"sms-rate"`
	NumberRate    float64 `yaml:"number-rate"`
	MarkupPercent float64 `yaml:"markup-percent"`
}

// Config is the resolved application configuration.
type Config struct {
	Port        int      `yaml:"port"`
	DatabaseDSN string   `yaml:"database-dsn"`
	CORSOrigins []string `yaml:"cors-origins"`

	JWT    JWTConfig    `yaml:"jwt"`
	Redis  RedisConfig  `yaml:"redis"`
	Twilio TwilioConfig `yaml:"twilio"`
	Stripe StripeConfig `yaml:"stripe"`
	LLM    LLMConfig    `yaml:"llm"`
	Rates  BillingRates `yaml:"rates"`

	// EncryptionKey is the base64 Fernet key protecting stored telephony
	// secrets.
	EncryptionKey string `yaml:"encryption-key"`

	// WebhookRatePerSecond caps inbound webhook calls per sender number.
	// Zero disables the limiter.
	WebhookRatePerSecond int `yaml:"webhook-rate-per-second"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file, applies environment overrides, and fills
// defaults. A missing file is not an error when the environment supplies the
// required values.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Port: 8080,
		JWT: JWTConfig{
			AccessExpiry:  defaultJWTAccessExpiry,
			RefreshExpiry: defaultJWTRefreshExpiry,
		},
		Redis: RedisConfig{Queue: defaultQueueName},
		LLM: LLMConfig{
			Timeout:     defaultLLMTimeout,
			MaxTokens:   defaultLLMMaxTokens,
			Temperature: defaultLLMTemperature,
		},
		Rates: BillingRates{
			SMSRate:       defaultSMSRate,
			NumberRate:    defaultNumberRate,
			MarkupPercent: defaultMarkupPercent,
		},
		WebhookRatePerSecond: defaultWebhookRate,
	}

	data, errRead := os.ReadFile(ResolveConfigPath(configPath))
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", configPath, errUnmarshal)
		}
	}

	applyEnvOverrides(&cfg)

	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return Config{}, fmt.Errorf("config: missing database dsn (set `database-dsn` or %s)", EnvDBConnection)
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return Config{}, fmt.Errorf("config: missing jwt secret (set `jwt.secret` or %s)", EnvJWTSecret)
	}
	if cfg.JWT.AccessExpiry <= 0 {
		cfg.JWT.AccessExpiry = defaultJWTAccessExpiry
	}
	if cfg.JWT.RefreshExpiry <= 0 {
		cfg.JWT.RefreshExpiry = defaultJWTRefreshExpiry
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = defaultLLMTimeout
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = defaultLLMMaxTokens
	}
	if strings.TrimSpace(cfg.Redis.Queue) == "" {
		cfg.Redis.Queue = defaultQueueName
	}
	return cfg, nil
}

// SignatureValidationEnabled reports whether webhook signatures must verify.
// Validation defaults to on; it can only be disabled explicitly in config.
func (c TwilioConfig) SignatureValidationEnabled() bool {
	if c.ValidateSignature == nil {
		return true
	}
	return *c.ValidateSignature
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvDBConnection)); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisAddr)); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisPassword)); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		cfg.JWT.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); v != "" {
		if expiry, errParse := time.ParseDuration(v); errParse == nil && expiry > 0 {
			cfg.JWT.AccessExpiry = expiry
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvTwilioSID)); v != "" {
		cfg.Twilio.AccountSID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTwilioToken)); v != "" {
		cfg.Twilio.AuthToken = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStripeKey)); v != "" {
		cfg.Stripe.SecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStripeWebhook)); v != "" {
		cfg.Stripe.WebhookSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLLMBaseURL)); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLLMAPIKey)); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLLMModel)); v != "" {
		cfg.LLM.Model = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvEncryptionKey)); v != "" {
		cfg.EncryptionKey = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if port, errParse := strconv.Atoi(v); errParse == nil && port > 0 && port <= 65535 {
			cfg.Port = port
		}
	}
}
