// Package config содержит логику чтения конфигурации виртуального банка.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации виртуального банка.
type Config struct {
	RunAddress    string        `env:"RUN_ADDRESS"`
	DatabaseURI   string        `env:"DATABASE_URI"`
	AMQPURL       string        `env:"AMQP_URL"`
	AuthSecret    string        `env:"AUTH_SECRET"`
	AdminPassword string        `env:"ADMIN_PASSWORD"`
	TickInterval  time.Duration `env:"TICK_INTERVAL"`

	AMQPExchange        string        `env:"AMQP_EXCHANGE" envDefault:"virtualbank.notifications"`
	LoanCheckInterval   time.Duration `env:"LOAN_CHECK_INTERVAL" envDefault:"1h"`
	PriceUpdateInterval time.Duration `env:"PRICE_UPDATE_INTERVAL" envDefault:"15s"`
	NotifyWorkers       int           `env:"NOTIFY_WORKERS" envDefault:"4"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Непустые переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAMQPURL := cfg.AMQPURL
	envAuthSecret := cfg.AuthSecret
	envAdminPassword := cfg.AdminPassword
	envTickInterval := cfg.TickInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (in-memory storage if empty)")
	flag.StringVar(&cfg.AMQPURL, "q", "", "RabbitMQ URL for notifications (log only if empty)")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.StringVar(&cfg.AdminPassword, "p", "admin123", "password of the bootstrap admin account")
	flag.DurationVar(&cfg.TickInterval, "t", time.Minute, "scheduler tick interval")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAMQPURL != "" {
		cfg.AMQPURL = envAMQPURL
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envAdminPassword != "" {
		cfg.AdminPassword = envAdminPassword
	}
	if envTickInterval != 0 {
		cfg.TickInterval = envTickInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %s", cfg.TickInterval)
	}
	if cfg.LoanCheckInterval <= 0 || cfg.PriceUpdateInterval <= 0 {
		return nil, fmt.Errorf("check intervals must be positive")
	}

	return cfg, nil
}
