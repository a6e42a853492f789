// Package config содержит логику чтения конфигурации движка заказов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации движка заказов.
type Config struct {
	RunAddress      string        `env:"RUN_ADDRESS"`
	DatabaseURI     string        `env:"DATABASE_URI"`
	ProviderAddress string        `env:"PROVIDER_ADDRESS"`
	ProviderKey     string        `env:"PROVIDER_KEY"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	CatalogTTL      time.Duration `env:"CATALOG_TTL" envDefault:"5m"`
	AuthSecret      string        `env:"AUTH_SECRET"`
	AdminToken      string        `env:"ADMIN_TOKEN"`
	StatusInterval  time.Duration `env:"STATUS_INTERVAL" envDefault:"30s"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envProviderAddress := cfg.ProviderAddress
	envProviderKey := cfg.ProviderKey

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ProviderAddress, "p", "", "fulfillment provider API address")
	flag.StringVar(&cfg.ProviderKey, "k", "", "fulfillment provider API key")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envProviderAddress != "" {
		cfg.ProviderAddress = envProviderAddress
	}
	if envProviderKey != "" {
		cfg.ProviderKey = envProviderKey
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
