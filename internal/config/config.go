// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :5000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the optional Redis address; when set, the token blacklist
	// is stored in Redis so revocations are shared across instances.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// JWTSecret is the HS256 signing secret for access and refresh tokens.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTAccessTTL is the access token lifetime (e.g. "24h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "720h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// LoginMaxAttempts is the number of failed logins per client address
	// before the lockout window applies.
	LoginMaxAttempts int `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	// LoginLockout is the lockout window after too many failures (e.g. "15m").
	LoginLockout string `mapstructure:"LOGIN_LOCKOUT"`
	// WebLoginURL is the hosted login page the web-login endpoint redirects to.
	WebLoginURL string `mapstructure:"WEB_LOGIN_URL"`
	// OTLPEndpoint is the optional OTLP collector endpoint for traces.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":5000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_LOCKOUT", "15m")
	v.SetDefault("WEB_LOGIN_URL", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.JWTSecret == "" {
		if cfg.Env == "production" {
			return nil, errors.New("config: JWT_SECRET must be set when APP_ENV=production")
		}
		cfg.JWTSecret = "dev-secret-do-not-use-in-production"
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.LoginMaxAttempts <= 0 {
		cfg.LoginMaxAttempts = 5
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// LockoutWindow parses LoginLockout as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) LockoutWindow() time.Duration {
	d, err := time.ParseDuration(c.LoginLockout)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}
