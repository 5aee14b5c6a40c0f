package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port          string `env:"PORT" envDefault:"8080"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"http://127.0.0.1:3000"`

	DatabaseURL     string `env:"DATABASE_URL"`
	DatabaseMigrate bool   `env:"DATABASE_MIGRATE" envDefault:"true"`
	MongoURI        string `env:"MONGO_URI"`
	MongoDatabase   string `env:"MONGO_DATABASE" envDefault:"retailpos"`

	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	SettingsCacheTTL time.Duration `env:"SETTINGS_CACHE_TTL" envDefault:"60s"`

	AuthSecret         string        `env:"AUTH_SECRET"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"8h"`
	LoginRatePerMinute int           `env:"LOGIN_RATE_PER_MINUTE" envDefault:"5"`

	DefaultTaxRatePercent float64       `env:"DEFAULT_TAX_RATE_PERCENT" envDefault:"8"`
	LoyaltyRetryInterval  time.Duration `env:"LOYALTY_RETRY_INTERVAL" envDefault:"1m"`
}

// Load reads the process environment, after an optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.LoginRatePerMinute < 1 {
		cfg.LoginRatePerMinute = 5
	}
	if cfg.DefaultTaxRatePercent < 0 || cfg.DefaultTaxRatePercent > 100 {
		return Config{}, fmt.Errorf("DEFAULT_TAX_RATE_PERCENT must be between 0 and 100, got %v", cfg.DefaultTaxRatePercent)
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
