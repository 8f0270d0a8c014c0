// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Link     LinkConfig     `mapstructure:"link"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Log      LogConfig      `mapstructure:"log"`
}

// TelegramConfig holds Telegram bot configuration.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Debug bool   `mapstructure:"debug"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LinkConfig holds link token issuance configuration.
type LinkConfig struct {
	MaxTTLMinutes     int `mapstructure:"max_ttl_minutes"`     // upper bound accepted from callers
	DefaultTTLMinutes int `mapstructure:"default_ttl_minutes"` // used when the caller omits a ttl
	IssuePerMinute    int `mapstructure:"issue_per_minute"`    // per-user issuance rate limit
	TokenAttempts     int `mapstructure:"token_attempts"`      // generation retries on collision
}

// QueueConfig holds notification queue consumer configuration.
type QueueConfig struct {
	Workers        int `mapstructure:"workers"`
	BatchSize      int `mapstructure:"batch_size"`
	PollIntervalMS int `mapstructure:"poll_interval_ms"` // base poll cadence
	MaxBackoffSec  int `mapstructure:"max_backoff_sec"`  // idle/backoff ceiling
	LeaseSec       int `mapstructure:"lease_sec"`        // claim lease duration
	RetentionDays  int `mapstructure:"retention_days"`   // processed row retention
	StoreRetries   int `mapstructure:"store_retries"`    // polls failed before operator alert
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "./data/bot.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("link.max_ttl_minutes", 15)
	v.SetDefault("link.default_ttl_minutes", 5)
	v.SetDefault("link.issue_per_minute", 3)
	v.SetDefault("link.token_attempts", 3)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.poll_interval_ms", 1000)
	v.SetDefault("queue.max_backoff_sec", 30)
	v.SetDefault("queue.lease_sec", 60)
	v.SetDefault("queue.retention_days", 14)
	v.SetDefault("queue.store_retries", 5)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Read environment variables
	v.SetEnvPrefix("NBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if c.Link.MaxTTLMinutes <= 0 {
		return fmt.Errorf("link.max_ttl_minutes must be positive")
	}
	if c.Link.DefaultTTLMinutes <= 0 || c.Link.DefaultTTLMinutes > c.Link.MaxTTLMinutes {
		return fmt.Errorf("link.default_ttl_minutes must be within (0, max_ttl_minutes]")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive")
	}
	if c.Queue.LeaseSec <= 0 {
		return fmt.Errorf("queue.lease_sec must be positive")
	}
	return nil
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxTTL returns the maximum accepted token lifetime.
func (c *LinkConfig) MaxTTL() time.Duration {
	return time.Duration(c.MaxTTLMinutes) * time.Minute
}

// DefaultTTL returns the token lifetime used when callers omit one.
func (c *LinkConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLMinutes) * time.Minute
}

// PollInterval returns the base consumer poll cadence.
func (c *QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// MaxBackoff returns the ceiling for idle and failure backoff.
func (c *QueueConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSec) * time.Second
}

// Lease returns the claim lease duration.
func (c *QueueConfig) Lease() time.Duration {
	return time.Duration(c.LeaseSec) * time.Second
}

// Retention returns how long processed queue rows are kept.
func (c *QueueConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
