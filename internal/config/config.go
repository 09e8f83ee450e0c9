// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`       // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"LOG_FORMAT"`     // json|console
	Sampling bool   `yaml:"sampling" env:"LOG_SAMPLING"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL            string `yaml:"url" env:"DATABASE_URL"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// RedisConfig is optional: an empty URL disables rate limiting and event markers.
type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // processed webhook event markers
}

// AuthConfig describes the identity provider's access tokens.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"JWT_ISSUER"`
	Audience  string `yaml:"audience" env:"JWT_AUDIENCE"`
}

type StripeConfig struct {
	SecretKey        string        `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret    string        `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	PriceID          string        `yaml:"price_id" env:"STRIPE_PRICE_ID"`
	SuccessURL       string        `yaml:"success_url" env:"STRIPE_SUCCESS_URL"`
	CancelURL        string        `yaml:"cancel_url" env:"STRIPE_CANCEL_URL"`
	PortalReturnURL  string        `yaml:"portal_return_url" env:"STRIPE_PORTAL_RETURN_URL"`
	APIBase          string        `yaml:"api_base"`
	WebhookTolerance time.Duration `yaml:"webhook_tolerance"`
}

type PaymentConfig struct {
	Provider string       `yaml:"provider" env:"PAYMENT_PROVIDER"` // stripe | noop
	Stripe   StripeConfig `yaml:"stripe"`
}

type AllocationConfig struct {
	MaxNumber         int           `yaml:"max_number"`
	BlockedNumbers    []int         `yaml:"blocked_numbers"`
	ReservationTTL    time.Duration `yaml:"reservation_ttl"`
	ReservationMargin time.Duration `yaml:"reservation_margin"` // sweep keeps expired reservations this long
	GraceWindow       time.Duration `yaml:"grace_window"`
}

type SweepConfig struct {
	Secret   string        `yaml:"secret" env:"CRON_SECRET"`
	Interval time.Duration `yaml:"interval"` // 0 disables the in-process worker
}

type AlertsConfig struct {
	TelegramToken string  `yaml:"telegram_token" env:"TELEGRAM_TOKEN"`
	AdminChatIDs  []int64 `yaml:"admin_chat_ids" env:"TELEGRAM_ADMIN_CHAT_IDS"`
	Language      string  `yaml:"language" env:"ALERTS_LANGUAGE"` // en | it
}

type RateLimitConfig struct {
	ClaimsPerMinute int `yaml:"claims_per_minute"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Payment    PaymentConfig    `yaml:"payment"`
	Allocation AllocationConfig `yaml:"allocation"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig loads the configuration and validates everything serve needs.
func LoadConfig(path string, dev bool) (*Config, error) {
	cfg, err := Load(path, dev)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the YAML file at path (a missing file is allowed when the
// environment carries everything), applies environment overrides and fills
// defaults. Callers that need only part of the config validate it themselves.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env only
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)
	if c.Payment.Provider == "" {
		c.Payment.Provider = "stripe"
	}
	if c.Payment.Stripe.APIBase == "" {
		c.Payment.Stripe.APIBase = "https://api.stripe.com"
	}
	if c.Payment.Stripe.WebhookTolerance <= 0 {
		c.Payment.Stripe.WebhookTolerance = 5 * time.Minute
	}
	if c.Allocation.MaxNumber <= 0 {
		c.Allocation.MaxNumber = 100000
	}
	if c.Allocation.ReservationTTL <= 0 {
		c.Allocation.ReservationTTL = 30 * time.Minute
	}
	if c.Allocation.ReservationMargin <= 0 {
		c.Allocation.ReservationMargin = time.Hour
	}
	if c.Allocation.GraceWindow <= 0 {
		c.Allocation.GraceWindow = 7 * 24 * time.Hour
	}
	if c.Alerts.Language == "" {
		c.Alerts.Language = "en"
	}
	if c.RateLimit.ClaimsPerMinute <= 0 {
		c.RateLimit.ClaimsPerMinute = 10
	}
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Sweep.Secret == "" {
		return errors.New("sweep.secret is required")
	}
	switch c.Payment.Provider {
	case "stripe":
		if c.Payment.Stripe.SecretKey == "" {
			return errors.New("payment.stripe.secret_key is required")
		}
		if c.Payment.Stripe.WebhookSecret == "" {
			return errors.New("payment.stripe.webhook_secret is required")
		}
		if c.Payment.Stripe.PriceID == "" {
			return errors.New("payment.stripe.price_id is required")
		}
	case "noop":
		if c.Payment.Stripe.WebhookSecret == "" {
			return errors.New("payment.stripe.webhook_secret is required")
		}
	default:
		return fmt.Errorf("payment.provider %q is not supported", c.Payment.Provider)
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 72 * time.Hour
	}
	return d
}
