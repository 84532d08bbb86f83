package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all process configuration values.
type Config struct {
	AppPort  string `mapstructure:"APP_PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisLockDB   int    `mapstructure:"REDIS_LOCK_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`
	LockBackend   string `mapstructure:"LOCK_BACKEND"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	MobileMoneyBaseURL           string `mapstructure:"MOBILE_MONEY_BASE_URL"`
	MobileMoneyAPIKey            string `mapstructure:"MOBILE_MONEY_API_KEY"`
	MobileMoneyCallbackTokenHash string `mapstructure:"MOBILE_MONEY_CALLBACK_TOKEN_HASH"`

	SendGridAPIKey    string `mapstructure:"SENDGRID_API_KEY"`
	SendGridFromEmail string `mapstructure:"SENDGRID_FROM_EMAIL"`
	SendGridFromName  string `mapstructure:"SENDGRID_FROM_NAME"`
	TwilioAccountSID  string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber  string `mapstructure:"TWILIO_FROM_NUMBER"`

	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`

	PricingFile string `mapstructure:"PRICING_FILE"`

	HoldTTL           time.Duration `mapstructure:"HOLD_TTL"`
	LockTimeout       time.Duration `mapstructure:"LOCK_TIMEOUT"`
	PaymentTimeout    time.Duration `mapstructure:"PAYMENT_TIMEOUT"`
	MaxPaymentRetries int           `mapstructure:"MAX_PAYMENT_RETRIES"`
	SweepSchedule     string        `mapstructure:"SWEEP_SCHEDULE"`
	WorkerConcurrency int           `mapstructure:"WORKER_CONCURRENCY"`
	RateLimitPerMin   int           `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	TrustProxy        bool          `mapstructure:"TRUST_PROXY"`

	PaymentEventGrace time.Duration `mapstructure:"PAYMENT_EVENT_GRACE"`
}

var defaults = map[string]any{
	"APP_PORT":              "8080",
	"ENV":                   "development",
	"LOG_LEVEL":             "info",
	"DATABASE_URL":          "",
	"REDIS_ADDR":            "",
	"REDIS_PASSWORD":        "",
	"REDIS_LOCK_DB":         0,
	"REDIS_QUEUE_DB":        1,
	"LOCK_BACKEND":          "memory",
	"JWT_SECRET":            "",
	"STRIPE_SECRET_KEY":     "",
	"STRIPE_WEBHOOK_SECRET": "",
	"MOBILE_MONEY_BASE_URL": "",
	"MOBILE_MONEY_API_KEY":  "",

	"MOBILE_MONEY_CALLBACK_TOKEN_HASH": "",

	"SENDGRID_API_KEY":      "",
	"SENDGRID_FROM_EMAIL":   "",
	"SENDGRID_FROM_NAME":    "DriveHub",
	"TWILIO_ACCOUNT_SID":    "",
	"TWILIO_AUTH_TOKEN":     "",
	"TWILIO_FROM_NUMBER":    "",
	"MONGO_URI":             "",
	"MONGO_DATABASE":        "drivehub",
	"PRICING_FILE":          "",
	"HOLD_TTL":              "2m",
	"LOCK_TIMEOUT":          "3s",
	"PAYMENT_TIMEOUT":       "30m",
	"MAX_PAYMENT_RETRIES":   3,
	"SWEEP_SCHEDULE":        "@every 1m",
	"WORKER_CONCURRENCY":    10,
	"RATE_LIMIT_PER_MINUTE": 120,
	"TRUST_PROXY":           false,
	"PAYMENT_EVENT_GRACE":   "10m",
}

// Load reads .env (if present), config.yaml (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL must be positive")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	if c.MaxPaymentRetries < 0 {
		return fmt.Errorf("MAX_PAYMENT_RETRIES must not be negative")
	}
	if c.PaymentEventGrace < 0 {
		return fmt.Errorf("PAYMENT_EVENT_GRACE must not be negative")
	}
	switch c.LockBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("LOCK_BACKEND=redis needs REDIS_ADDR")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be memory or redis, got %q", c.LockBackend)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
