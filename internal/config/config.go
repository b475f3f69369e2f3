// Package config содержит логику чтения конфигурации сервиса подбора исполнителей.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress       = "localhost:8080"
	defaultSQLitePath       = "data/fairmatch.db"
	defaultGeoReconcileSpec = "@every 10m"
	defaultBidRateLimit     = 30
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	SQLitePath       string `env:"SQLITE_PATH"`
	RedisURL         string `env:"REDIS_URL"`
	JWTSecret        string `env:"JWT_SECRET"`
	IdentityAddress  string `env:"IDENTITY_ADDRESS"`
	SeedFile         string `env:"SEED_FILE"`
	GeoReconcileSpec string `env:"GEO_RECONCILE_SPEC"`
	BidRateLimit     int    `env:"BID_RATE_LIMIT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значение из окружения имеет приоритет над флагом.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "PostgreSQL URI, SQLite is used when empty")
	flag.StringVar(&cfg.SQLitePath, "s", defaultSQLitePath, "SQLite database file")
	flag.StringVar(&cfg.RedisURL, "r", "", "Redis URL for geo cache, events and rate limiting")
	flag.StringVar(&cfg.JWTSecret, "k", "", "HMAC secret for bearer tokens")
	flag.StringVar(&cfg.IdentityAddress, "i", "", "identity service address")
	flag.StringVar(&cfg.SeedFile, "seed", "", "YAML file with users to load at startup")
	flag.StringVar(&cfg.GeoReconcileSpec, "geo-reconcile", defaultGeoReconcileSpec, "cron spec for geo cache reconciliation")
	flag.IntVar(&cfg.BidRateLimit, "bid-rate", defaultBidRateLimit, "bids per provider per minute")

	flag.Parse()

	override(&cfg.RunAddress, fromEnv.RunAddress)
	override(&cfg.DatabaseURI, fromEnv.DatabaseURI)
	override(&cfg.SQLitePath, fromEnv.SQLitePath)
	override(&cfg.RedisURL, fromEnv.RedisURL)
	override(&cfg.JWTSecret, fromEnv.JWTSecret)
	override(&cfg.IdentityAddress, fromEnv.IdentityAddress)
	override(&cfg.SeedFile, fromEnv.SeedFile)
	override(&cfg.GeoReconcileSpec, fromEnv.GeoReconcileSpec)
	if fromEnv.BidRateLimit != 0 {
		cfg.BidRateLimit = fromEnv.BidRateLimit
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = defaultSQLitePath
	}
	if cfg.BidRateLimit < 0 {
		return nil, fmt.Errorf("bid rate limit must not be negative: %d", cfg.BidRateLimit)
	}

	return cfg, nil
}

func override(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}
