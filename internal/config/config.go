package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"` // per-request transition lock
}

type RailConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type GatewayConfig struct {
	MobileMoney RailConfig `yaml:"mobile_money"`
	Card        RailConfig `yaml:"card"`
}

type RefundConfig struct {
	// Auto-approved reasons above this amount still land in pending for
	// operator review. 0 disables the cap.
	MaxAutoApproveAmount int64 `yaml:"max_auto_approve_amount"`
}

type CancellationConfig struct {
	Workers            int    `yaml:"workers"`             // refund fan-out concurrency
	ConfirmationPhrase string `yaml:"confirmation_phrase"` // typed friction before processing
	NotifySubject      string `yaml:"notify_subject"`
	NotifyBody         string `yaml:"notify_body"`
}

type MetricsConfig struct {
	Port int `yaml:"port"`
}

type BusConfig struct {
	Buffer int `yaml:"buffer"` // per-subscriber queue depth
}

type Config struct {
	Log          LogConfig          `yaml:"log"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Gateways     GatewayConfig      `yaml:"gateways"`
	Refunds      RefundConfig       `yaml:"refunds"`
	Cancellation CancellationConfig `yaml:"cancellation"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Bus          BusConfig          `yaml:"bus"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = 30 * time.Second
	}
	if cfg.Gateways.MobileMoney.Timeout <= 0 {
		cfg.Gateways.MobileMoney.Timeout = 15 * time.Second
	}
	if cfg.Gateways.Card.Timeout <= 0 {
		cfg.Gateways.Card.Timeout = 15 * time.Second
	}
	if cfg.Cancellation.Workers <= 0 {
		cfg.Cancellation.Workers = 8
	}
	if cfg.Cancellation.ConfirmationPhrase == "" {
		cfg.Cancellation.ConfirmationPhrase = "CONFIRM"
	}
	if cfg.Cancellation.NotifySubject == "" {
		cfg.Cancellation.NotifySubject = "{{event}} has been cancelled"
	}
	if cfg.Cancellation.NotifyBody == "" {
		cfg.Cancellation.NotifyBody = "We're sorry: {{event}} was cancelled. A refund of {{amount}} ({{percentage}}%) is on its way back to your original payment method."
	}
	if cfg.Metrics.Port <= 0 {
		cfg.Metrics.Port = 9102
	}
	if cfg.Bus.Buffer <= 0 {
		cfg.Bus.Buffer = 256
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
