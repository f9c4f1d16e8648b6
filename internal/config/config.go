package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port         string `mapstructure:"PORT"`
	Env          string `mapstructure:"ENV"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32  `mapstructure:"DB_MIN_CONNS"`
	DBAutoSchema bool   `mapstructure:"DB_AUTO_SCHEMA"`

	RabbitMQURI            string        `mapstructure:"RABBITMQ_URI"`
	RabbitMQExchange       string        `mapstructure:"RABBITMQ_EXCHANGE"`
	RabbitMQQueue          string        `mapstructure:"RABBITMQ_QUEUE"`
	RabbitMQReconnectDelay time.Duration `mapstructure:"RABBITMQ_RECONNECT_DELAY"`
	PublishTimeout         time.Duration `mapstructure:"PUBLISH_TIMEOUT"`

	OutboxInterval    time.Duration `mapstructure:"OUTBOX_INTERVAL"`
	OutboxBatchSize   int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxConcurrency int           `mapstructure:"OUTBOX_CONCURRENCY"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_AUTO_SCHEMA",
	"RABBITMQ_URI", "RABBITMQ_EXCHANGE", "RABBITMQ_QUEUE", "RABBITMQ_RECONNECT_DELAY", "PUBLISH_TIMEOUT",
	"OUTBOX_INTERVAL", "OUTBOX_BATCH_SIZE", "OUTBOX_CONCURRENCY",
	"CORS_ORIGINS",
}

// Load reads .env (when present) and the environment. DATABASE_URL is the
// only setting every command needs; the rest is checked by Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_AUTO_SCHEMA", true)
	v.SetDefault("RABBITMQ_EXCHANGE", "health")
	v.SetDefault("RABBITMQ_QUEUE", "mhealth")
	v.SetDefault("RABBITMQ_RECONNECT_DELAY", "5s")
	v.SetDefault("PUBLISH_TIMEOUT", "10s")
	v.SetDefault("OUTBOX_INTERVAL", "2m")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("OUTBOX_CONCURRENCY", 4)
	v.SetDefault("CORS_ORIGINS", "*")

	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the settings the server needs beyond the database.
func (c *Config) Validate() error {
	if c.RabbitMQURI == "" {
		return fmt.Errorf("RABBITMQ_URI is required")
	}
	if c.RabbitMQReconnectDelay <= 0 {
		return fmt.Errorf("RABBITMQ_RECONNECT_DELAY must be positive, got %s", c.RabbitMQReconnectDelay)
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("PUBLISH_TIMEOUT must be positive, got %s", c.PublishTimeout)
	}
	if c.OutboxInterval <= 0 {
		return fmt.Errorf("OUTBOX_INTERVAL must be positive, got %s", c.OutboxInterval)
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive, got %d", c.OutboxBatchSize)
	}
	if c.OutboxConcurrency <= 0 {
		return fmt.Errorf("OUTBOX_CONCURRENCY must be positive, got %d", c.OutboxConcurrency)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
