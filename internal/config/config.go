// Package config loads locmap configuration from locmap.yaml, .env and LOCMAP_* variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/locmap/pkg/cache"
	"github.com/Sternrassler/locmap/pkg/driver"
	"github.com/Sternrassler/locmap/pkg/logging"
	"github.com/Sternrassler/locmap/pkg/transport"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level locmap configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	MaxPages  int             `yaml:"max_pages" mapstructure:"max_pages"`
}

// TransportConfig selects and configures the extraction service transport.
type TransportConfig struct {
	Kind       string        `yaml:"kind" mapstructure:"kind"`
	Server     string        `yaml:"server" mapstructure:"server"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent  string        `yaml:"user_agent" mapstructure:"user_agent"`
	EventsPath string        `yaml:"events_path" mapstructure:"events_path"`
}

// RedisConfig configures the optional page cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	DB       int           `yaml:"db" mapstructure:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Pretty bool   `yaml:"pretty" mapstructure:"pretty"`
}

// MetricsConfig configures the metrics endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Load reads configuration from .env, locmap.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("locmap")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LOCMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	def := transport.DefaultConfig()
	v.SetDefault("transport.kind", string(def.Kind))
	v.SetDefault("transport.server", def.BaseURL)
	v.SetDefault("transport.timeout", def.Timeout)
	v.SetDefault("transport.user_agent", def.UserAgent)
	v.SetDefault("transport.events_path", def.EventsPath)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", cache.DefaultTTL)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("max_pages", driver.MaxPages)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that viper cannot type-check.
func (c *Config) Validate() error {
	switch transport.Kind(c.Transport.Kind) {
	case transport.KindPoll, transport.KindPush:
	default:
		return fmt.Errorf("config: transport.kind must be poll or push (got %q)", c.Transport.Kind)
	}
	if c.Transport.Server == "" {
		return fmt.Errorf("config: transport.server is required")
	}
	if c.Transport.Timeout <= 0 {
		return fmt.Errorf("config: transport.timeout must be positive (got %s)", c.Transport.Timeout)
	}
	if c.MaxPages < 1 || c.MaxPages > driver.MaxPages {
		return fmt.Errorf("config: max_pages must be between 1 and %d (got %d)", driver.MaxPages, c.MaxPages)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// TransportSettings converts the transport section for transport.New.
// The cache is attached by the caller.
func (c *Config) TransportSettings() transport.Config {
	return transport.Config{
		Kind:       transport.Kind(c.Transport.Kind),
		BaseURL:    c.Transport.Server,
		Timeout:    c.Transport.Timeout,
		UserAgent:  c.Transport.UserAgent,
		EventsPath: c.Transport.EventsPath,
		CacheTTL:   c.Redis.CacheTTL,
	}
}

// LogSettings converts the log section for logging.Setup.
func (c *Config) LogSettings() logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = c.Log.Pretty
	return cfg
}
