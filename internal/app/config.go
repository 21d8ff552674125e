package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8182" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL; empty runs fully in-memory" flag:"database-url"`
	AdminSecret string `usage:"Shared secret for merchant-side endpoints (CHECKOUT_ADMIN_SECRET)" flag:"admin-secret"`
	Merchant    MerchantConfig
	Hedera      HederaConfig
	Sessions    SessionsConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// MerchantConfig describes the merchant the server checks out for.
type MerchantConfig struct {
	Name               string `default:"FloraCart Demo Florist" usage:"Merchant display name"`
	Currency           string `default:"USD" usage:"Merchant settlement currency"`
	TaxRateBps         int64  `default:"0" usage:"Flat tax rate in basis points" flag:"tax-rate-bps"`
	RequireFulfillment bool   `default:"true" usage:"Require address and option before completion" flag:"require-fulfillment"`
}

// HederaConfig configures the Hedera HBAR payment handler.
type HederaConfig struct {
	Network           string `default:"testnet" usage:"Hedera network name"`
	MerchantAccountID string `default:"0.0.12345" usage:"Merchant Hedera account id" flag:"merchant-account-id"`
}

// SessionsConfig controls session expiry and idempotency retention.
type SessionsConfig struct {
	TTL            time.Duration `default:"30m" usage:"Sliding session inactivity deadline"`
	SweepInterval  time.Duration `default:"1m"  usage:"Interval between expiry sweeps" flag:"sweep-interval"`
	IdempotencyTTL time.Duration `default:"24h" usage:"Idempotency record retention" flag:"idempotency-ttl"`
}

// RateLimitConfig controls the per-client fixed-window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and platform-provided defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8182" {
		c.Addr = "0.0.0.0:" + port
	}
}
