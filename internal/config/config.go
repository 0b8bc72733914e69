package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port                  string   `env:"PORT" envDefault:"8080"`
	AllowedOrigin         string   `env:"ALLOWED_ORIGIN" envDefault:"http://127.0.0.1:3000"`
	DatabaseURL           string   `env:"DATABASE_URL"`
	AutoMigrate           bool     `env:"AUTO_MIGRATE" envDefault:"true"`
	RedisAddr             string   `env:"REDIS_ADDR"`
	RedisPassword         string   `env:"REDIS_PASSWORD"`
	RedisDB               int      `env:"REDIS_DB" envDefault:"0"`
	ReportCacheTTLSeconds int      `env:"REPORT_CACHE_TTL_SECONDS" envDefault:"30"`
	AuthSecret            string   `env:"AUTH_SECRET"`
	AccessTokenTTLMinutes int      `env:"ACCESS_TOKEN_TTL_MINUTES" envDefault:"480"`
	ManagerPIN            string   `env:"MANAGER_PIN"`
	SeedAdminPassword     string   `env:"SEED_ADMIN_PASSWORD"`
	SeedCashierPassword   string   `env:"SEED_CASHIER_PASSWORD"`
	SettingsFile          string   `env:"SETTINGS_FILE"`
	KafkaBrokers          []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic            string   `env:"KAFKA_TOPIC" envDefault:"retailpos.events"`
	LogLevel              string   `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment        bool     `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// Load reads the process environment. Values that do not parse are an
// error; out-of-range durations fall back to their defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.ReportCacheTTLSeconds < 0 {
		cfg.ReportCacheTTLSeconds = 30
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)

	brokers := cfg.KafkaBrokers[:0]
	for _, broker := range cfg.KafkaBrokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	cfg.KafkaBrokers = brokers

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
