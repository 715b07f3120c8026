// Package config loads crawlctl settings from an optional YAML file, defaults and CRAWLCTL_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nadmax/crawlctl/internal/logger"
	"github.com/spf13/viper"
)

const EnvPrefix = "CRAWLCTL"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Client   ClientConfig   `mapstructure:"client"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type WorkerConfig struct {
	ID           string        `mapstructure:"id"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PageDelay    time.Duration `mapstructure:"page_delay"`
}

type ClientConfig struct {
	BaseURL                string        `mapstructure:"base_url"`
	Timeout                time.Duration `mapstructure:"timeout"`
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	LogDir                 string        `mapstructure:"log_dir"`
}

type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	File     string         `mapstructure:"file"`
	Console  bool           `mapstructure:"console"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

type NotifyConfig struct {
	SendgridAPIKey string   `mapstructure:"sendgrid_api_key"`
	FromName       string   `mapstructure:"from_name"`
	FromAddress    string   `mapstructure:"from_address"`
	To             []string `mapstructure:"to"`
}

// LoggerConfig maps the logging section onto the logger package settings.
func (l LoggingConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      l.Level,
		LogDir:     l.LogDir,
		File:       l.File,
		Console:    l.Console,
		MaxSize:    l.Rotation.MaxSize,
		MaxBackups: l.Rotation.MaxBackups,
		MaxAge:     l.Rotation.MaxAge,
		Compress:   l.Rotation.Compress,
	}
}

// Enabled reports whether completion e-mails should be sent.
func (n NotifyConfig) Enabled() bool {
	return n.SendgridAPIKey != "" && n.FromAddress != "" && len(n.To) > 0
}

// Load reads configuration. An empty path searches ./configs, . and ~/.crawlctl for
// config.yaml and falls back to defaults when none exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".crawlctl"))
		}
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_interval", 10*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("postgres.dsn", "")

	v.SetDefault("worker.id", "")
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.retry_backoff", 10*time.Second)
	v.SetDefault("worker.page_delay", 2*time.Second)

	v.SetDefault("client.base_url", "http://localhost:8080/api/crawler")
	v.SetDefault("client.timeout", 10*time.Second)
	v.SetDefault("client.poll_interval", 5*time.Second)
	v.SetDefault("client.max_consecutive_failures", 0)
	v.SetDefault("client.log_dir", "logs")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.file", "crawlctl.log")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("notify.sendgrid_api_key", "")
	v.SetDefault("notify.from_name", "crawlctl")
	v.SetDefault("notify.from_address", "")
	v.SetDefault("notify.to", []string{})
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive, got %s", c.Worker.PollInterval)
	}
	if c.Worker.RetryBackoff < 0 {
		return fmt.Errorf("worker.retry_backoff must not be negative, got %s", c.Worker.RetryBackoff)
	}
	if c.Client.BaseURL == "" {
		return errors.New("client.base_url is required")
	}
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("client.poll_interval must be positive, got %s", c.Client.PollInterval)
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive, got %s", c.Client.Timeout)
	}
	if c.Client.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("client.max_consecutive_failures must not be negative, got %d", c.Client.MaxConsecutiveFailures)
	}

	return nil
}
